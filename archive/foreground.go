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
package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/walarc/walarc/applog"
	"github.com/walarc/walarc/lock"
	"github.com/walarc/walarc/spool"
	"github.com/walarc/walarc/walarcerr"
	"github.com/walarc/walarc/walseg"
)

// Clock abstracts time so the deadline loop (I5) is testable with a fake
// clock instead of real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time    { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// ForkFunc launches an async run with the given ideal queue and returns
// immediately (the async run proceeds independently); it is the
// foreground's substitute for "fork async with ideal queue as argv" --
// concretely a detached re-exec of this binary in the archive-get:async
// role (see cmd/walarc), injected here so tests can observe exactly how
// many times it is invoked without spawning real processes.
type ForkFunc func(idealQueue []string) error

// ForegroundConfig carries everything ForegroundGet needs beyond the
// segment name itself.
type ForegroundConfig struct {
	Stanza        string
	Spool         *spool.Spool
	LockPath      string
	Fork          ForkFunc
	Clock         Clock
	PollInterval  time.Duration
	Deadline      time.Duration
	QueueMaxBytes int64
	SegmentSize   uint32
	WalSegSize    uint32
}

// ForegroundResult is what ForegroundGet hands back to the CLI layer to
// translate into an exit code (0 delivered, 1 not-found-soft).
type ForegroundResult struct {
	Delivered bool
	Warnings  []string
}

// ForegroundGet implements §4.G's deadline loop for one requested segment.
// async is forced off by the caller for non-segment targets (history files,
// etc.) per the "synchronous fallback" rule; when async is false, Candidates
// is tried directly via Get on the caller's own thread/goroutine.
func ForegroundGet(ctx context.Context, segName string, candidates []Candidate, async bool, cfg ForegroundConfig) (ForegroundResult, error) {
	if !async || !walseg.IsSegmentName(segName) {
		res, err := Get(ctx, segName, candidates, cfg.Spool)
		if err != nil {
			return ForegroundResult{}, err
		}
		if !res.Found {
			return ForegroundResult{Delivered: false}, nil
		}
		return ForegroundResult{Delivered: true, Warnings: res.Warnings}, nil
	}

	seg, err := walseg.ParseSegment(segName)
	if err != nil {
		return ForegroundResult{}, walarcerr.Wrap(walarcerr.InvalidArgument, err, "parse segment %s", segName)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	deadline := clock.Now().Add(cfg.Deadline)

	forked := false
	throwOnError := false

	for {
		// CHECK: an .ok marker always means DONE (confirmed absent), regardless
		// of throwOnError -- a worker has already settled the question for
		// this segment.
		if okMarker, ok, err := cfg.Spool.ReadOK(ctx, segName); err != nil {
			return ForegroundResult{}, err
		} else if ok {
			return ForegroundResult{Delivered: false, Warnings: okMarker.Warnings}, nil
		}

		// An .error marker or global.error only aborts once throwOnError has
		// been raised by a prior WAIT -- the first CHECK might otherwise race
		// a worker that is mid-write on a *subsequent*, successful attempt.
		if throwOnError {
			if errMarker, ok, err := cfg.Spool.ReadError(ctx, segName); err != nil {
				return ForegroundResult{}, err
			} else if ok {
				return ForegroundResult{}, walarcerr.New(walarcerr.Integrity, "worker reported error for %s: %s", segName, errMarker.Message)
			}
			if global, ok, err := cfg.Spool.ReadGlobalError(ctx); err != nil {
				return ForegroundResult{}, err
			} else if ok {
				return ForegroundResult{}, walarcerr.New(walarcerr.Protocol, "async run failed: %s", global.Message)
			}
		}

		has, err := cfg.Spool.HasSegment(ctx, segName)
		if err != nil {
			return ForegroundResult{}, err
		}
		if has {
			// DELIVER is the caller's job (it owns the destination path);
			// ForegroundGet signals delivery, leaving the spool-to-destination
			// move to the CLI layer via DeliverSegment below.
			return ForegroundResult{Delivered: true}, nil
		}

		// FORK?
		if !forked {
			halfFull, err := queueHalfFull(ctx, cfg.Spool, cfg.QueueMaxBytes, cfg.SegmentSize)
			if err != nil {
				return ForegroundResult{}, err
			}
			if !halfFull {
				if l, lerr := lock.Acquire(cfg.LockPath, cfg.Stanza); lerr == nil {
					idealQueue := IdealQueueFor(seg, false, cfg.QueueMaxBytes, cfg.SegmentSize, cfg.WalSegSize)
					if ferr := cfg.Fork(idealQueue); ferr != nil {
						applog.For("archive").WithError(ferr).Warn("archive-get: async fork failed")
					}
					forked = true
					l.Release()
				} else if !errors.Is(lerr, lock.ErrContended) {
					return ForegroundResult{}, lerr
				}
				// lock.ErrContended: §7/boundary behavior -- not fatal, keep polling.
			}
		}

		// WAIT
		if clock.Now().After(deadline) {
			return ForegroundResult{Delivered: false}, nil
		}
		clock.Sleep(cfg.PollInterval)
		throwOnError = true
	}
}

// queueHalfFull implements the "queue half-full" heuristic: queueBytes =
// count(segments in spool) * segmentSize; if queueBytes > queueMax/2, no
// new async run is needed.
func queueHalfFull(ctx context.Context, sp *spool.Spool, queueMaxBytes int64, segmentSize uint32) (bool, error) {
	bytes, err := sp.QueueBytes(ctx, segmentSize)
	if err != nil {
		return false, err
	}
	return bytes > queueMaxBytes/2, nil
}

// DeliverSegment performs §4.G's DELIVER step: move spool/SEG to dst,
// permitting cross-filesystem copy. dst is an arbitrary absolute path (the
// database's target file), so this goes through os directly rather than
// through a storage.Backend rooted at the spool directory.
func DeliverSegment(ctx context.Context, sp *spool.Spool, segName, dst string) error {
	src := sp.SegmentPath(segName)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver open %s", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver mkdir for %s", dst)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver copy %s -> %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver close %s", dst)
	}
	if err := os.Remove(src); err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "deliver unlink source %s", src)
	}
	return nil
}
