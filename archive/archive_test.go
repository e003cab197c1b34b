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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/walarc/walarc/lock"
	"github.com/walarc/walarc/spool"
	"github.com/walarc/walarc/storage"
	"github.com/walarc/walarc/storage/posix"
	"github.com/walarc/walarc/worker"
)

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp, err := spool.Open(t.TempDir())
	require.NoError(t, err)
	return sp
}

func newRepo(t *testing.T) (*posix.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	return posix.New(dir), dir
}

func writeRepoFile(t *testing.T, root, relPath, contents string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0750))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0640))
}

const segA = "00000001000000020000003A"

// fakeClock lets the deadline loop (I5) be driven deterministically instead
// of sleeping in real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingFork records every invocation without spawning anything, letting
// I4 (at-most-one fork per foreground call) be asserted directly.
type countingFork struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *countingFork) fork(idealQueue []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]string(nil), idealQueue...)
	f.calls = append(f.calls, cp)
	return nil
}

func (f *countingFork) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func baseConfig(t *testing.T, sp *spool.Spool, clock Clock, fork ForkFunc) ForegroundConfig {
	t.Helper()
	return ForegroundConfig{
		Stanza:        "main",
		Spool:         sp,
		LockPath:      t.TempDir(),
		Fork:          fork,
		Clock:         clock,
		PollInterval:  10 * time.Millisecond,
		Deadline:      100 * time.Millisecond,
		QueueMaxBytes: 16 * 1024 * 1024,
		SegmentSize:   16 * 1024 * 1024,
		WalSegSize:    16 * 1024 * 1024,
	}
}

// S1: synchronous fallback hits a repository directly and delivers. Per
// spec.md S1 ("Sync hit", archive-async=false): exit 0 requires the
// destination file to exist with the segment's bytes, not merely the spool
// entry -- ForegroundGet only ever fetches into the spool (sync and async
// alike), so the caller must always follow up with DeliverSegment.
func TestS1SyncHitDeliversDirectly(t *testing.T) {
	sp := newTestSpool(t)
	repo, root := newRepo(t)
	writeRepoFile(t, root, filepath.Join("stanza1", segA[0:16], segA), "segment-bytes")

	candidates := []Candidate{{Backend: repo, ArchiveID: "stanza1"}}
	res, err := ForegroundGet(context.Background(), segA, candidates, false, ForegroundConfig{Spool: sp})
	require.NoError(t, err)
	require.True(t, res.Delivered)

	dst := filepath.Join(t.TempDir(), "pg_wal", "RECOVERYXLOG")
	require.NoError(t, DeliverSegment(context.Background(), sp, segA, dst))

	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "segment-bytes", string(contents))

	has, err := sp.HasSegment(context.Background(), segA)
	require.NoError(t, err)
	require.False(t, has, "DeliverSegment moves the segment out of the spool")
}

// S2: async miss-then-hit. The first CHECK finds nothing and forks; once the
// segment materializes in the spool (simulating the async worker), a second
// foreground call should observe it via HasSegment.
func TestS2AsyncMissThenHit(t *testing.T) {
	sp := newTestSpool(t)
	clock := newFakeClock()
	fork := &countingFork{}
	cfg := baseConfig(t, sp, clock, fork.fork)
	cfg.Deadline = 5 * time.Millisecond // expires almost immediately: miss first

	res, err := ForegroundGet(context.Background(), segA, nil, true, cfg)
	require.NoError(t, err)
	require.False(t, res.Delivered)
	require.Equal(t, 1, fork.count())

	// Simulate the async worker materializing the segment.
	w, err := sp.OpenSegmentWriter(context.Background(), segA)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cfg2 := baseConfig(t, sp, clock, fork.fork)
	res2, err := ForegroundGet(context.Background(), segA, nil, true, cfg2)
	require.NoError(t, err)
	require.True(t, res2.Delivered)
}

// S3: async not-found -- an .ok marker (worker confirmed absence) ends the
// loop with Delivered=false and no error, surfacing the worker's warnings.
func TestS3AsyncNotFound(t *testing.T) {
	sp := newTestSpool(t)
	clock := newFakeClock()
	fork := &countingFork{}
	cfg := baseConfig(t, sp, clock, fork.fork)

	require.NoError(t, sp.WriteOK(context.Background(), segA, spool.OKMarker{Warnings: []string{"no repo had it"}}))

	res, err := ForegroundGet(context.Background(), segA, nil, true, cfg)
	require.NoError(t, err)
	require.False(t, res.Delivered)
	require.Equal(t, []string{"no repo had it"}, res.Warnings)
	// .ok short-circuits before any fork would be attempted.
	require.Equal(t, 0, fork.count())
}

// S4: preserve-or-evict (I1) at the archive-level entry point, exercised via
// AsyncGet's call into spool.Sweep before dispatch.
func TestS4AsyncGetSweepsBeforeDispatch(t *testing.T) {
	sp := newTestSpool(t)
	ctx := context.Background()

	// A stale entry outside the new ideal queue, and a global.error left
	// behind by a prior failed run.
	w, err := sp.OpenSegmentWriter(ctx, "00000001000000020000000A")
	require.NoError(t, err)
	_, err = w.Write([]byte("stale"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, sp.WriteGlobalError(ctx, spool.ErrorMarker{Code: 5, Message: "prior run failed"}))

	idealQueue := []string{segA}
	fd := &fakeDispatcher{results: []worker.Result{
		{Job: worker.Job{Segment: segA}, SelectedIndex: worker.NotFoundIndex},
	}}

	err = AsyncGet(ctx, idealQueue, AsyncConfig{Spool: sp, Dispatcher: fd})
	require.NoError(t, err)

	has, err := sp.HasSegment(ctx, "00000001000000020000000A")
	require.NoError(t, err)
	require.False(t, has, "stale segment outside the ideal queue must be evicted")

	_, ok, err := sp.ReadGlobalError(ctx)
	require.NoError(t, err)
	require.False(t, ok, "global.error from a prior run must be evicted before a new dispatch")

	ok_, ok, err := sp.ReadOK(ctx, segA)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ok_)
}

// S5: cross-filesystem delivery falls back to copy-then-unlink, exercised
// directly against DeliverSegment (storage/posix's own Move has equivalent
// same-filesystem coverage).
func TestS5DeliverSegmentMovesOutOfSpool(t *testing.T) {
	sp := newTestSpool(t)
	ctx := context.Background()
	w, err := sp.OpenSegmentWriter(ctx, segA)
	require.NoError(t, err)
	_, err = w.Write([]byte("delivered-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dst := filepath.Join(t.TempDir(), "pgwal", segA)
	require.NoError(t, DeliverSegment(ctx, sp, segA, dst))

	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "delivered-bytes", string(contents))

	_, err = os.Stat(sp.SegmentPath(segA))
	require.True(t, os.IsNotExist(err))
}

// S6: lock contention during FORK? is not fatal -- the foreground loop keeps
// polling instead of aborting.
func TestS6LockContentionIsNotFatal(t *testing.T) {
	sp := newTestSpool(t)
	clock := newFakeClock()
	fork := &countingFork{}
	cfg := baseConfig(t, sp, clock, fork.fork)
	cfg.Deadline = 5 * time.Millisecond

	held, err := lock.Acquire(cfg.LockPath, cfg.Stanza)
	require.NoError(t, err)
	defer held.Release()

	res, err := ForegroundGet(context.Background(), segA, nil, true, cfg)
	require.NoError(t, err)
	require.False(t, res.Delivered)
	// Contention means Fork was never reached.
	require.Equal(t, 0, fork.count())
}

// I4: ForegroundGet forks at most once across a single deadline loop, even
// though FORK? is checked on every iteration.
func TestI4ForksAtMostOnce(t *testing.T) {
	sp := newTestSpool(t)
	clock := newFakeClock()
	fork := &countingFork{}
	cfg := baseConfig(t, sp, clock, fork.fork)
	cfg.Deadline = 35 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond

	res, err := ForegroundGet(context.Background(), segA, nil, true, cfg)
	require.NoError(t, err)
	require.False(t, res.Delivered)
	require.Equal(t, 1, fork.count())
}

// I5: the deadline bounds the loop -- ForegroundGet returns once the fake
// clock has advanced past cfg.Deadline, without ever sleeping in real time.
func TestI5DeadlineBoundsTheLoop(t *testing.T) {
	sp := newTestSpool(t)
	clock := newFakeClock()
	fork := &countingFork{}
	cfg := baseConfig(t, sp, clock, fork.fork)
	cfg.Deadline = 25 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond

	start := time.Now()
	res, err := ForegroundGet(context.Background(), segA, nil, true, cfg)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.False(t, res.Delivered)
	require.Less(t, elapsed, 20*time.Millisecond, "the fake clock must not cause real sleeping")
}

// I7: Get never prefers a later candidate once an earlier one matches.
func TestI7CandidateOrderingPrefersEarliestMatch(t *testing.T) {
	sp := newTestSpool(t)
	ctx := context.Background()

	repo1, root1 := newRepo(t)
	repo2, root2 := newRepo(t)
	writeRepoFile(t, root1, filepath.Join("stanza1", segA[0:16], segA), "from-repo1")
	writeRepoFile(t, root2, filepath.Join("stanza1", segA[0:16], segA), "from-repo2")

	candidates := []Candidate{
		{Backend: repo1, ArchiveID: "stanza1"},
		{Backend: repo2, ArchiveID: "stanza1"},
	}
	res, err := Get(ctx, segA, candidates, sp)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, 0, res.SelectedIdx)

	r, ok, err := posix.New(sp.Dir()).NewRead(ctx, segA, storage.ReadOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()
}

type fakeDispatcher struct {
	results []worker.Result
	err     error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, jobs []worker.Job) ([]worker.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}
