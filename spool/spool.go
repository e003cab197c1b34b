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

// Package spool manages the look-ahead spool queue: the local directory
// (<spool-path>/archive/in) the async worker run populates and the
// foreground loop reads from. Membership in the current ideal queue decides
// whether a pre-existing entry is preserved or evicted, tracked with an
// ordered github.com/google/btree set the way the teacher's storage package
// keeps an ordered btree.BTreeG index alongside its linear row storage.
package spool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/btree"
	"github.com/walarc/walarc/pack"
	"github.com/walarc/walarc/storage"
	"github.com/walarc/walarc/storage/posix"
)

// EntryKind classifies one file found directly under the spool directory.
type EntryKind int

const (
	// KindSegment is a fully materialized segment ready for delivery.
	KindSegment EntryKind = iota
	// KindOK is a "checked absent" marker.
	KindOK
	// KindError is a per-segment error marker.
	KindError
	// KindGlobalError is the catch-all marker for an entire async run.
	KindGlobalError
)

// Entry is one SpoolEntry as found on disk.
type Entry struct {
	Name    string // base file name exactly as it appears on disk
	Segment string // segment name this entry is about (empty for KindGlobalError)
	Kind    EntryKind
}

const globalErrorName = "global.error"

// OKMarker is the pack-encoded body of a <SEG>.ok file.
type OKMarker struct {
	Warnings []string `pack:"1"`
}

// ErrorMarker is the pack-encoded body of a <SEG>.error or global.error file.
type ErrorMarker struct {
	Code    int32  `pack:"1"`
	Message string `pack:"2"`
}

// Spool wraps the posix backend rooted at <spool-path>/archive/in, the only
// directory archive-get ever touches within the spool path.
type Spool struct {
	dir     string
	backend *posix.Backend
}

// Open returns a Spool rooted at <spoolPath>/archive/in, creating the
// directory if it does not yet exist.
func Open(spoolPath string) (*Spool, error) {
	dir := filepath.Join(spoolPath, "archive", "in")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("spool: mkdir %s: %w", dir, err)
	}
	return &Spool{dir: dir, backend: posix.New(dir)}, nil
}

// Dir returns the absolute spool-in directory.
func (s *Spool) Dir() string { return s.dir }

// classify derives an Entry from a base file name.
func classify(name string) Entry {
	switch {
	case name == globalErrorName:
		return Entry{Name: name, Kind: KindGlobalError}
	case strings.HasSuffix(name, ".ok"):
		return Entry{Name: name, Segment: strings.TrimSuffix(name, ".ok"), Kind: KindOK}
	case strings.HasSuffix(name, ".error"):
		return Entry{Name: name, Segment: strings.TrimSuffix(name, ".error"), Kind: KindError}
	default:
		return Entry{Name: name, Segment: name, Kind: KindSegment}
	}
}

// List returns every SpoolEntry currently on disk.
func (s *Spool) List(ctx context.Context) ([]Entry, error) {
	names, err := s.backend.List(ctx, "", storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, classify(n))
	}
	return entries, nil
}

// HasSegment reports whether the fully-materialized segment file SEG exists
// in the spool -- the condition the foreground CHECK step polls on.
func (s *Spool) HasSegment(ctx context.Context, seg string) (bool, error) {
	return s.backend.Exists(ctx, seg)
}

// ReadOK reads a <SEG>.ok marker, if present.
func (s *Spool) ReadOK(ctx context.Context, seg string) (*OKMarker, bool, error) {
	r, ok, err := s.backend.NewRead(ctx, seg+".ok", storage.ReadOptions{IgnoreMissing: true})
	if err != nil || !ok {
		return nil, ok, err
	}
	defer r.Close()
	var m OKMarker
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	if err := pack.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("spool: decode %s.ok: %w", seg, err)
	}
	return &m, true, nil
}

// ReadError reads a <SEG>.error marker, if present.
func (s *Spool) ReadError(ctx context.Context, seg string) (*ErrorMarker, bool, error) {
	return s.readErrorMarker(ctx, seg+".error")
}

// ReadGlobalError reads the catch-all global.error marker, if present.
func (s *Spool) ReadGlobalError(ctx context.Context) (*ErrorMarker, bool, error) {
	return s.readErrorMarker(ctx, globalErrorName)
}

func (s *Spool) readErrorMarker(ctx context.Context, name string) (*ErrorMarker, bool, error) {
	r, ok, err := s.backend.NewRead(ctx, name, storage.ReadOptions{IgnoreMissing: true})
	if err != nil || !ok {
		return nil, ok, err
	}
	defer r.Close()
	var m ErrorMarker
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	if err := pack.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("spool: decode %s: %w", name, err)
	}
	return &m, true, nil
}

// WriteOK atomically writes a <SEG>.ok marker.
func (s *Spool) WriteOK(ctx context.Context, seg string, m OKMarker) error {
	return s.writeMarker(ctx, seg+".ok", m)
}

// WriteError atomically writes a <SEG>.error marker.
func (s *Spool) WriteError(ctx context.Context, seg string, m ErrorMarker) error {
	return s.writeMarker(ctx, seg+".error", m)
}

// WriteGlobalError atomically writes the catch-all global.error marker.
func (s *Spool) WriteGlobalError(ctx context.Context, m ErrorMarker) error {
	return s.writeMarker(ctx, globalErrorName, m)
}

func (s *Spool) writeMarker(ctx context.Context, name string, m any) error {
	data, err := pack.Marshal(m)
	if err != nil {
		return fmt.Errorf("spool: encode %s: %w", name, err)
	}
	w, err := s.backend.NewWrite(ctx, name, storage.WriteOptions{Atomic: true})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// OpenSegmentWriter opens the <SEG>.<uuid>.tmp-then-rename writer a worker uses to
// materialize a segment: invariant 2 requires segment content writes be
// {atomic=true, syncFile=true, syncPath=true}, unlike marker writes which
// only need atomicity.
func (s *Spool) OpenSegmentWriter(ctx context.Context, seg string) (io.WriteCloser, error) {
	return s.backend.NewWrite(ctx, seg, storage.WriteOptions{Atomic: true, SyncFile: true, SyncPath: true})
}

// SegmentPath returns the absolute path of a materialized segment file,
// which is what archive.DeliverSegment moves out of the spool.
func (s *Spool) SegmentPath(seg string) string {
	return filepath.Join(s.dir, seg)
}

// RemoveEntry deletes a single spool entry by its base name.
func (s *Spool) RemoveEntry(ctx context.Context, name string) error {
	return s.backend.Remove(ctx, name, storage.RemoveOptions{})
}

// idealSet is the btree.BTreeG ordered index of ideal-queue segment names
// Sweep uses to decide preserve vs. evict in O(log n) per spool entry,
// mirroring the teacher's StorageIndex.deltaBtree usage of an ordered
// btree.BTreeG[T] alongside linear storage.
type idealSet struct {
	tree *btree.BTreeG[string]
}

func newIdealSet(names []string) *idealSet {
	tree := btree.NewG(32, func(a, b string) bool { return a < b })
	for _, n := range names {
		tree.ReplaceOrInsert(n)
	}
	return &idealSet{tree: tree}
}

func (s *idealSet) has(name string) bool {
	_, ok := s.tree.Get(name)
	return ok
}

// SweepResult reports what a Sweep pass preserved and evicted, for logging
// and for the S4 scenario's assertions.
type SweepResult struct {
	Preserved []string
	Evicted   []string
}

// Sweep implements the preserve-or-evict invariant (I1): given the current
// ideal queue (a list of segment names), every segment file whose name is a
// member of the ideal queue is preserved; every other entry -- including
// .ok/.error markers, even those of ideal-queue members, and global.error --
// is deleted. This is
// what lets a subsequent async run retry a segment whose prior attempt left
// only an error marker behind.
func (s *Spool) Sweep(ctx context.Context, idealQueue []string) (SweepResult, error) {
	set := newIdealSet(idealQueue)

	entries, err := s.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	for _, e := range entries {
		if e.Kind == KindGlobalError {
			// global.error never matches any segment name; it is always stale
			// once a new async run begins sweeping.
			if err := s.RemoveEntry(ctx, e.Name); err != nil {
				return result, err
			}
			result.Evicted = append(result.Evicted, e.Name)
			continue
		}
		if e.Kind == KindSegment && set.has(e.Segment) {
			result.Preserved = append(result.Preserved, e.Name)
			continue
		}
		if err := s.RemoveEntry(ctx, e.Name); err != nil {
			return result, err
		}
		result.Evicted = append(result.Evicted, e.Name)
	}

	sort.Strings(result.Preserved)
	sort.Strings(result.Evicted)
	return result, nil
}

// QueueBytes estimates the spool's current occupancy in bytes for the
// "queue half-full" heuristic: count(segments in spool) * segmentSize. Only
// KindSegment entries count -- markers are negligible and not what the
// heuristic is bounding.
func (s *Spool) QueueBytes(ctx context.Context, segmentSize uint32) (int64, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if e.Kind == KindSegment {
			n++
		}
	}
	return n * int64(segmentSize), nil
}
