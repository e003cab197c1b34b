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

// walarc is the single binary housing all three archive-get roles:
// the foreground command the database invokes directly, the internal
// async fan-out driver, and the re-exec'd single-worker role that speaks
// the framed pack protocol over its own stdin/stdout. Subcommand dispatch
// follows the teacher's flat, no-framework CLI style: a leading
// os.Args[1] token picks the role, and each role owns its own flag.FlagSet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/walarc/walarc/applog"
	"github.com/walarc/walarc/archive"
	"github.com/walarc/walarc/spool"
	"github.com/walarc/walarc/storage"
	_ "github.com/walarc/walarc/storage/posix"
	_ "github.com/walarc/walarc/storage/s3"
	"github.com/walarc/walarc/walarcconfig"
	"github.com/walarc/walarc/walarcerr"
	"github.com/walarc/walarc/walseg"
	"github.com/walarc/walarc/worker"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: walarc <archive-get|archive-get:async|archive-get:local> [options]")
		os.Exit(2)
	}

	role := os.Args[1]
	args := os.Args[2:]

	var err error
	switch role {
	case "archive-get":
		err = runForeground(args)
	case "archive-get:async":
		err = runAsync(args)
	case "archive-get:local":
		err = runLocal(args)
	default:
		fmt.Fprintf(os.Stderr, "walarc: unknown role %q\n", role)
		os.Exit(2)
	}

	if err == nil {
		os.Exit(0)
	}
	if werr, ok := err.(*walarcerr.Error); ok {
		applog.For("walarc").WithError(werr).Error("archive-get failed")
		os.Exit(werr.ExitCode())
	}
	applog.For("walarc").WithError(err).Error("archive-get failed")
	os.Exit(2)
}

// loadConfig parses the common config + repo flags shared by every role.
func loadConfig(fs *flag.FlagSet, args []string) (walarcconfig.Config, error) {
	var configPath string
	fs.StringVar(&configPath, "config", "", "optional JSON config file underlay")
	cfg := walarcconfig.Default()
	if configPath != "" {
		var err error
		cfg, err = walarcconfig.Load(configPath)
		if err != nil {
			return cfg, walarcerr.Wrap(walarcerr.ConfigEnv, err, "load config")
		}
	}
	walarcconfig.BindFlags(fs, &cfg)
	repoFlags := walarcconfig.BindRepoFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, walarcerr.Wrap(walarcerr.InvalidArgument, err, "parse flags")
	}
	walarcconfig.MergeRepoFlags(&cfg, repoFlags)
	return cfg, nil
}

func openRepos(cfg walarcconfig.Config) ([]archive.Candidate, []worker.CandidateRepo, error) {
	candidates := make([]archive.Candidate, 0, len(cfg.Repos))
	wireRepos := make([]worker.CandidateRepo, 0, len(cfg.Repos))
	for i, r := range cfg.Repos {
		backend, err := storage.Open(storage.Config{Kind: r.Type, Path: r.Path, Params: r.Params})
		if err != nil {
			return nil, nil, walarcerr.Wrap(walarcerr.ConfigEnv, err, "open repo %d (%s)", i, r.Type)
		}
		archiveID := r.ArchiveID
		if archiveID == "" {
			archiveID = cfg.Stanza
		}
		candidates = append(candidates, archive.Candidate{
			Backend: backend, ArchiveID: archiveID, CipherType: r.CipherType, CipherPass: r.CipherPass,
		})
		cipherType := uint32(0)
		if r.CipherType != "" {
			cipherType = 1
		}
		wireRepos = append(wireRepos, worker.CandidateRepo{
			ArchivePath: r.Path, RepoIdx: uint32(i), ArchiveID: archiveID,
			CipherType: cipherType, CipherPass: r.CipherPass,
		})
	}
	return candidates, wireRepos, nil
}

// runForeground implements the database-facing default role: archive-get
// <SEG-NAME> <DEST-PATH>.
func runForeground(args []string) error {
	fs := flag.NewFlagSet("archive-get", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return walarcerr.Wrap(walarcerr.ConfigEnv, err, "validate config")
	}
	positional := fs.Args()
	if len(positional) != 2 {
		return walarcerr.New(walarcerr.InvalidArgument, "usage: archive-get <SEG-NAME> <DEST-PATH>")
	}
	segName, destPath := positional[0], positional[1]

	candidates, wireRepos, err := openRepos(cfg)
	if err != nil {
		return err
	}

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "open spool")
	}

	ctrl, err := walseg.ReadControlFile(cfg.PgPath)
	if err != nil {
		return walarcerr.Wrap(walarcerr.ConfigEnv, err, "read control file")
	}

	exe, err := os.Executable()
	if err != nil {
		return walarcerr.Wrap(walarcerr.Assertion, err, "resolve own executable")
	}

	forkFn := func(idealQueue []string) error {
		asyncArgs := []string{
			"archive-get:async",
			"-stanza", cfg.Stanza,
			"-pg-path", cfg.PgPath,
			"-spool-path", cfg.SpoolPath,
			"-lock-path", cfg.LockPath,
			"-process-max", fmt.Sprint(cfg.ProcessMax),
		}
		for _, r := range cfg.Repos {
			asyncArgs = append(asyncArgs, "-repo-path", r.Path, "-repo-type", r.Type)
			break // single-repo CLI surface: only the first repo's path and type are forwarded; -config is not
		}
		// Segment names go last: flag parsing stops at the first positional.
		asyncArgs = append(asyncArgs, idealQueue...)
		cmd := exec.Command(exe, asyncArgs...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		return cmd.Start()
	}

	fgCfg := archive.ForegroundConfig{
		Stanza:        cfg.Stanza,
		Spool:         sp,
		LockPath:      cfg.LockPath,
		Fork:          forkFn,
		Clock:         archive.RealClock{},
		PollInterval:  200 * time.Millisecond,
		Deadline:      time.Duration(cfg.ArchiveTimeoutSecs * float64(time.Second)),
		QueueMaxBytes: cfg.QueueMaxBytes,
		SegmentSize:   ctrl.WalSegSize,
		WalSegSize:    ctrl.WalSegSize,
	}
	_ = wireRepos // consumed by the async/local roles; kept here so openRepos stays a single call site

	res, err := archive.ForegroundGet(context.Background(), segName, candidates, cfg.ArchiveAsync, fgCfg)
	if err != nil {
		return err
	}
	if !res.Delivered {
		return walarcerr.New(walarcerr.NotFound, "segment %s not found in any configured repository", segName)
	}
	// DELIVER runs whenever the segment landed in the spool, sync or async:
	// the sync branch of ForegroundGet (archive/foreground.go) only fetches
	// into the spool, same as the async branch, and it is always this
	// caller's job to move it out to destPath (spec.md "Exit 0: segment
	// delivered to <DEST-PATH>" applies to every hit, not just async ones).
	if err := archive.DeliverSegment(context.Background(), sp, segName, destPath); err != nil {
		return err
	}
	for _, w := range res.Warnings {
		applog.For("archive-get").Warn(w)
	}
	return nil
}

// runAsync implements the internal fan-out driver: archive-get:async
// <SEG1> [SEG2 ...].
func runAsync(args []string) error {
	fs := flag.NewFlagSet("archive-get:async", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	idealQueue := fs.Args()
	if len(idealQueue) == 0 {
		return walarcerr.New(walarcerr.InvalidArgument, "usage: archive-get:async <SEG1> [SEG2 ...]")
	}

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "open spool")
	}
	_, wireRepos, err := openRepos(cfg)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return walarcerr.Wrap(walarcerr.Assertion, err, "resolve own executable")
	}
	localArgs := []string{"archive-get:local", "-stanza", cfg.Stanza, "-spool-path", cfg.SpoolPath}
	for _, r := range cfg.Repos {
		localArgs = append(localArgs, "-repo-path", r.Path, "-repo-type", r.Type)
		break // as in the foreground's fork: only the first repo's path and type are forwarded
	}

	protocolTimeout := time.Duration(cfg.ProtocolTimeoutSecs * float64(time.Second))
	pool, err := worker.NewPool(context.Background(), exe, localArgs, cfg.ProcessMax, protocolTimeout)
	if err != nil {
		return walarcerr.Wrap(walarcerr.Protocol, err, "start worker pool")
	}
	defer pool.Close()

	return archive.AsyncGet(context.Background(), idealQueue, archive.AsyncConfig{
		Spool:      sp,
		Dispatcher: pool,
		Candidates: wireRepos,
	})
}

// runLocal implements the re-exec'd single-worker role: read framed
// requests from stdin, write framed responses to stdout, exit on EOF.
func runLocal(args []string) error {
	fs := flag.NewFlagSet("archive-get:local", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "open spool")
	}

	// The wire protocol (§6) carries repoIdx but not repo-type, so a worker
	// resolves the backend kind from its own -repo-path/-repo-type flags
	// (mirrored into cfg.Repos by MergeRepoFlags) rather than from the job.
	resolve := func(c worker.CandidateRepo) archive.Candidate {
		cipherType := ""
		if c.CipherType != 0 {
			cipherType = "aes-256-cbc"
		}
		kind := "posix"
		if int(c.RepoIdx) < len(cfg.Repos) {
			kind = cfg.Repos[c.RepoIdx].Type
		}
		backend, err := storage.Open(storage.Config{Kind: kind, Path: c.ArchivePath})
		if err != nil {
			applog.For("archive-get:local").WithError(err).Warn("failed to open candidate backend")
		}
		return archive.Candidate{Backend: backend, ArchiveID: c.ArchiveID, CipherType: cipherType, CipherPass: c.CipherPass}
	}

	handler := archive.LocalHandler(sp, resolve)
	return worker.Serve(context.Background(), os.Stdin, os.Stdout, handler)
}
