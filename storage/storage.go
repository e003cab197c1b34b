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

// Package storage defines the repository storage capability the archive-get
// pipeline consumes abstractly: read/write/list/remove/exists/info over
// whichever backend a stanza is configured against. Concrete backends live
// in storage/posix, storage/s3 and storage/ceph, each registering itself
// here the way the teacher's persistence layer registers its own
// PersistenceFactory implementations.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// InfoType classifies a repository entry the way Info reports it.
type InfoType int

const (
	TypeFile InfoType = iota
	TypePath
	TypeLink
	TypeSpecial
)

// Info is the result of a backend Info call.
type Info struct {
	Exists bool
	Type   InfoType
	Size   int64
	ModTime time.Time
}

// ReadOptions configures NewRead.
type ReadOptions struct {
	IgnoreMissing bool
	Limit         int64 // 0 means unlimited
}

// WriteOptions configures NewWrite. Atomic writers always write to a
// temporary name and rename into place; Sync* are honored only when the
// backend has a meaningful notion of them (posix does, object stores don't).
type WriteOptions struct {
	CreatePath bool
	SyncFile   bool
	SyncPath   bool
	Atomic     bool
	ModeFile   uint32
	ModePath   uint32
}

// ListOptions configures List.
type ListOptions struct {
	Regex           string // empty means no filtering
	ErrorOnMissing  bool
	SortAscending   bool
}

// RemoveOptions configures Remove.
type RemoveOptions struct {
	ErrorOnMissing bool
}

// Backend is the capability archive.Get and spool.Sweep consume; it mirrors
// the repository storage capability exactly, independent of whether the
// concrete store is a local filesystem, S3, or Ceph/RADOS.
type Backend interface {
	// NewRead opens path for reading. When opts.IgnoreMissing is set and
	// path does not exist, it returns (nil, false, nil) rather than an
	// error.
	NewRead(ctx context.Context, path string, opts ReadOptions) (io.ReadCloser, bool, error)
	// NewWrite opens path for writing per opts.
	NewWrite(ctx context.Context, path string, opts WriteOptions) (io.WriteCloser, error)
	// List returns the base names directly inside path, filtered by
	// opts.Regex if set, in ascending lexical order when opts.SortAscending.
	List(ctx context.Context, path string, opts ListOptions) ([]string, error)
	Info(ctx context.Context, path string) (Info, error)
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string, opts RemoveOptions) error
	PathCreate(ctx context.Context, path string) error
	// Move relocates src to dst. Implementations must fall back to
	// copy-then-unlink when the backend cannot rename across the given
	// paths (e.g. different posix filesystems); object-store backends
	// always take the copy path since they have no rename primitive.
	Move(ctx context.Context, src, dst string) error
}

// Config carries the backend-agnostic subset of repository configuration;
// each backend's factory picks the fields it needs out of Params.
type Config struct {
	Kind   string // "posix", "s3", "ceph"
	Path   string
	Params map[string]string
}

// Factory constructs a Backend from Config. Backends register a Factory
// under their kind name via Register, mirroring the teacher's
// BackendRegistry["ceph"] = ... pattern.
type Factory func(cfg Config) (Backend, error)

var registry = map[string]Factory{}

// Register adds a backend factory under kind. Called from each backend
// subpackage's init(), so importing storage/s3 (for instance) for its side
// effect is what makes "s3" a valid repo-type.
func Register(kind string, f Factory) {
	registry[kind] = f
}

// Open selects a registered backend by kind and constructs it.
func Open(cfg Config) (Backend, error) {
	f, ok := registry[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("storage: unknown backend kind %q (forgot to import its package?)", cfg.Kind)
	}
	return f(cfg)
}

// SortNames sorts names in ascending lexical order, the tie-break order
// §4.F step 1c requires when more than one candidate object matches a
// segment's listing regex.
func SortNames(names []string) {
	sort.Strings(names)
}
