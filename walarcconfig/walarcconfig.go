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

// Package walarcconfig loads the stanza configuration §6 names: a JSON
// config-file underlay with flag overrides on top, the Default()/Load()
// shape grounded on EDRmount's internal/config package (the teacher itself
// has no config-file loader of its own).
package walarcconfig

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// Repo is one configured candidate repository (repo-type, repo-path, plus
// optional cipher settings).
type Repo struct {
	Type       string `json:"type"` // "posix", "s3", "ceph"
	Path       string `json:"path"`
	ArchiveID  string `json:"archive_id"`
	CipherType string `json:"cipher_type"` // "", "aes-256-cbc"
	CipherPass string `json:"cipher_pass"`
	Params     map[string]string `json:"params"`
}

// Config is the full stanza configuration archive-get consumes.
type Config struct {
	Stanza             string        `json:"stanza"`
	PgPath             string        `json:"pg_path"`
	SpoolPath          string        `json:"spool_path"`
	LockPath           string        `json:"lock_path"`
	Repos              []Repo        `json:"repo"`
	ArchiveAsync       bool          `json:"archive_async"`
	ArchiveTimeoutSecs float64       `json:"archive_timeout"`
	ProtocolTimeoutSecs float64      `json:"protocol_timeout"`
	QueueMaxBytes      int64         `json:"archive_get_queue_max"`
	ProcessMax         int           `json:"process_max"`
}

// Default returns the configuration's zero-value-safe defaults, the same
// role EDRmount's config.Default() plays: a fully populated Config that
// Load's JSON underlay and flag overrides then refine.
func Default() Config {
	return Config{
		SpoolPath:           "/var/spool/walarc",
		LockPath:            "/tmp",
		ArchiveAsync:        false,
		ArchiveTimeoutSecs:  60,
		ProtocolTimeoutSecs: 60,
		QueueMaxBytes:       16 * 1024 * 1024 * 16, // 16 segments' worth at 16MiB
		ProcessMax:          1,
	}
}

// Load reads path (if non-empty) as a JSON underlay over Default(), the
// same "defaults, then overlay whatever the file actually sets" shape
// EDRmount's config.Load uses.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("walarcconfig: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("walarcconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers flags on fs for every field a command line may
// override, writing into cfg. Flags always win over the file underlay
// because BindFlags is called with defaults already seeded from cfg, and
// fs.Parse is the caller's job, invoked after BindFlags.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Stanza, "stanza", cfg.Stanza, "stanza name")
	fs.StringVar(&cfg.PgPath, "pg-path", cfg.PgPath, "database data directory")
	fs.StringVar(&cfg.SpoolPath, "spool-path", cfg.SpoolPath, "local spool directory")
	fs.StringVar(&cfg.LockPath, "lock-path", cfg.LockPath, "advisory lock directory")
	fs.BoolVar(&cfg.ArchiveAsync, "archive-async", cfg.ArchiveAsync, "enable the async read-ahead worker pool")
	fs.Float64Var(&cfg.ArchiveTimeoutSecs, "archive-timeout", cfg.ArchiveTimeoutSecs, "foreground deadline, seconds")
	fs.Float64Var(&cfg.ProtocolTimeoutSecs, "protocol-timeout", cfg.ProtocolTimeoutSecs, "worker IPC deadline, seconds")
	fs.Int64Var(&cfg.QueueMaxBytes, "archive-get-queue-max", cfg.QueueMaxBytes, "ideal queue size budget, bytes")
	fs.IntVar(&cfg.ProcessMax, "process-max", cfg.ProcessMax, "worker pool size")
}

// RepoFlagValues holds the single repository a direct command-line
// invocation can specify, as opposed to the possibly-multiple repos a JSON
// config file's "repo" array lists.
type RepoFlagValues struct {
	Path       string
	Type       string
	CipherType string
	CipherPass string
}

// BindRepoFlags registers the repo-* flags §6 names.
func BindRepoFlags(fs *flag.FlagSet) *RepoFlagValues {
	v := &RepoFlagValues{Type: "posix"}
	fs.StringVar(&v.Path, "repo-path", "", "candidate repository path, bucket, or pool")
	fs.StringVar(&v.Type, "repo-type", v.Type, "repository backend: posix, s3, or ceph")
	fs.StringVar(&v.CipherType, "repo-cipher-type", "", "none or aes-256-cbc")
	fs.StringVar(&v.CipherPass, "repo-cipher-pass", "", "repository passphrase")
	return v
}

// MergeRepoFlags appends the command-line repo onto cfg.Repos when
// -repo-path was given, so a single-repo invocation works without a JSON
// config file. archiveID falls back to the stanza name when unset, since a
// bare CLI invocation has no other place to carry it.
func MergeRepoFlags(cfg *Config, v *RepoFlagValues) {
	if v.Path == "" {
		return
	}
	cfg.Repos = append(cfg.Repos, Repo{
		Type:       v.Type,
		Path:       v.Path,
		ArchiveID:  cfg.Stanza,
		CipherType: v.CipherType,
		CipherPass: v.CipherPass,
	})
}

// Validate checks the config/environment invariants §7's ConfigEnv kind
// covers: stanza present, at least one repository configured, process-max
// sane.
func (c Config) Validate() error {
	if c.Stanza == "" {
		return fmt.Errorf("walarcconfig: stanza is required")
	}
	if c.PgPath == "" {
		return fmt.Errorf("walarcconfig: pg-path is required")
	}
	if len(c.Repos) == 0 {
		return fmt.Errorf("walarcconfig: at least one repo must be configured")
	}
	if c.ProcessMax < 1 {
		return fmt.Errorf("walarcconfig: process-max must be >= 1")
	}
	if c.ProtocolTimeoutSecs < c.ArchiveTimeoutSecs {
		return fmt.Errorf("walarcconfig: protocol-timeout must be >= db-timeout (archive-timeout)")
	}
	return nil
}
