/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package walarcconfig

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidish(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1, cfg.ProcessMax)
	require.Equal(t, "/var/spool/walarc", cfg.SpoolPath)
}

func TestLoadOverlaysJSONOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walarc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stanza":"main","pg_path":"/pg/data","process_max":4}`), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "main", cfg.Stanza)
	require.Equal(t, "/pg/data", cfg.PgPath)
	require.Equal(t, 4, cfg.ProcessMax)
	require.Equal(t, "/var/spool/walarc", cfg.SpoolPath, "fields absent from JSON keep their default")
}

func TestBindFlagsOverridesFileUnderlay(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.ProcessMax = 2

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"-process-max=8"}))
	require.Equal(t, 8, cfg.ProcessMax)
}

func TestMergeRepoFlagsAppendsWhenRepoPathGiven(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Stanza = "main"

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	repoFlags := BindRepoFlags(fs)
	require.NoError(t, fs.Parse([]string{"-repo-path=/repo1", "-repo-type=s3", "-repo-cipher-type=aes-256-cbc"}))
	MergeRepoFlags(&cfg, repoFlags)

	require.Len(t, cfg.Repos, 1)
	require.Equal(t, "/repo1", cfg.Repos[0].Path)
	require.Equal(t, "s3", cfg.Repos[0].Type)
	require.Equal(t, "main", cfg.Repos[0].ArchiveID, "archive id falls back to the stanza name")
	require.Equal(t, "aes-256-cbc", cfg.Repos[0].CipherType)
}

func TestMergeRepoFlagsNoopWithoutRepoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	repoFlags := BindRepoFlags(fs)
	require.NoError(t, fs.Parse(nil))
	MergeRepoFlags(&cfg, repoFlags)

	require.Empty(t, cfg.Repos)
}

func TestValidateRejectsMissingStanza(t *testing.T) {
	cfg := Default()
	cfg.PgPath = "/pg/data"
	cfg.Repos = []Repo{{Type: "posix", Path: "/repo"}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsProtocolTimeoutBelowDBTimeout(t *testing.T) {
	cfg := Default()
	cfg.Stanza = "main"
	cfg.PgPath = "/pg/data"
	cfg.Repos = []Repo{{Type: "posix", Path: "/repo"}}
	cfg.ArchiveTimeoutSecs = 60
	cfg.ProtocolTimeoutSecs = 10
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.Stanza = "main"
	cfg.PgPath = "/pg/data"
	cfg.Repos = []Repo{{Type: "posix", Path: "/repo"}}
	require.NoError(t, cfg.Validate())
}
