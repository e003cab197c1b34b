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

// Package posix is the local-filesystem storage.Backend: the one actually
// exercised by the spool directory and by foreground delivery, and the
// simplest candidate repository backend for archive-get's own repo-path.
package posix

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"github.com/walarc/walarc/storage"
)

func init() {
	storage.Register("posix", func(cfg storage.Config) (storage.Backend, error) {
		return &Backend{root: cfg.Path}, nil
	})
}

// Backend implements storage.Backend rooted at a local directory.
type Backend struct {
	root string
}

// New constructs a posix Backend rooted at root, for callers that don't want
// to go through storage.Open (the spool package uses this directly, since
// the spool path is never anything other than local).
func New(root string) *Backend {
	return &Backend{root: root}
}

func (b *Backend) full(path string) string {
	return filepath.Join(b.root, path)
}

func (b *Backend) NewRead(_ context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, bool, error) {
	f, err := os.Open(b.full(path))
	if err != nil {
		if os.IsNotExist(err) && opts.IgnoreMissing {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("posix: open %s: %w", path, err)
	}
	if opts.Limit > 0 {
		return limitReadCloser{f: f, r: io.LimitReader(f, opts.Limit)}, true, nil
	}
	return f, true, nil
}

type limitReadCloser struct {
	f *os.File
	r io.Reader
}

func (l limitReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l limitReadCloser) Close() error                { return l.f.Close() }

// atomicWriteCloser writes to a uniquely-named temporary file in the same
// directory as the final path, and on Close fsyncs the file (when
// requested), closes, renames into place, and then fsyncs the directory
// (when requested) -- the spool's "write tmp, then atomic rename"
// invariant (storage.WriteOptions.Atomic) and I3's atomic-visibility
// guarantee both rest on this rename happening only after the data are
// written (and, with SyncFile, durable).
type atomicWriteCloser struct {
	f        *os.File
	tmpPath  string
	finalPath string
	syncFile bool
	syncPath bool
}

func (a *atomicWriteCloser) Write(p []byte) (int, error) { return a.f.Write(p) }

func (a *atomicWriteCloser) Close() error {
	if a.syncFile {
		if err := a.f.Sync(); err != nil {
			a.f.Close()
			os.Remove(a.tmpPath)
			return fmt.Errorf("posix: sync %s: %w", a.tmpPath, err)
		}
	}
	if err := a.f.Close(); err != nil {
		os.Remove(a.tmpPath)
		return err
	}
	if err := os.Rename(a.tmpPath, a.finalPath); err != nil {
		os.Remove(a.tmpPath)
		return fmt.Errorf("posix: rename %s -> %s: %w", a.tmpPath, a.finalPath, err)
	}
	if a.syncPath {
		syncDir(filepath.Dir(a.finalPath))
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	d.Sync()
}

func (b *Backend) NewWrite(_ context.Context, path string, opts storage.WriteOptions) (io.WriteCloser, error) {
	finalPath := b.full(path)
	if opts.CreatePath {
		mode := fs.FileMode(0750)
		if opts.ModePath != 0 {
			mode = fs.FileMode(opts.ModePath)
		}
		if err := os.MkdirAll(filepath.Dir(finalPath), mode); err != nil {
			return nil, fmt.Errorf("posix: mkdir for %s: %w", path, err)
		}
	}

	mode := fs.FileMode(0640)
	if opts.ModeFile != 0 {
		mode = fs.FileMode(opts.ModeFile)
	}

	if !opts.Atomic {
		f, err := os.OpenFile(finalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return nil, fmt.Errorf("posix: create %s: %w", path, err)
		}
		return f, nil
	}

	tmpPath := finalPath + "." + uuid.NewString() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, fmt.Errorf("posix: create temp for %s: %w", path, err)
	}
	return &atomicWriteCloser{
		f: f, tmpPath: tmpPath, finalPath: finalPath,
		syncFile: opts.SyncFile, syncPath: opts.SyncPath,
	}, nil
}

func (b *Backend) List(_ context.Context, path string, opts storage.ListOptions) ([]string, error) {
	entries, err := os.ReadDir(b.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			if opts.ErrorOnMissing {
				return nil, fmt.Errorf("posix: list %s: %w", path, err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("posix: list %s: %w", path, err)
	}

	var re *regexp.Regexp
	if opts.Regex != "" {
		re, err = regexp.Compile(opts.Regex)
		if err != nil {
			return nil, fmt.Errorf("posix: bad list regex %q: %w", opts.Regex, err)
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if re != nil && !re.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if opts.SortAscending {
		sort.Strings(names)
	}
	return names, nil
}

func (b *Backend) Info(_ context.Context, path string) (storage.Info, error) {
	st, err := os.Lstat(b.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Info{Exists: false}, nil
		}
		return storage.Info{}, fmt.Errorf("posix: stat %s: %w", path, err)
	}
	info := storage.Info{Exists: true, Size: st.Size(), ModTime: st.ModTime()}
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		info.Type = storage.TypeLink
	case st.IsDir():
		info.Type = storage.TypePath
	case st.Mode().IsRegular():
		info.Type = storage.TypeFile
	default:
		info.Type = storage.TypeSpecial
	}
	return info, nil
}

func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(b.full(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("posix: stat %s: %w", path, err)
}

func (b *Backend) Remove(_ context.Context, path string, opts storage.RemoveOptions) error {
	err := os.Remove(b.full(path))
	if err != nil {
		if os.IsNotExist(err) && !opts.ErrorOnMissing {
			return nil
		}
		return fmt.Errorf("posix: remove %s: %w", path, err)
	}
	return nil
}

func (b *Backend) PathCreate(_ context.Context, path string) error {
	if err := os.MkdirAll(b.full(path), 0750); err != nil {
		return fmt.Errorf("posix: mkdir %s: %w", path, err)
	}
	return nil
}

// Move renames src to dst, falling back to copy-then-unlink when the rename
// fails because the paths span filesystems (syscall.EXDEV on Linux surfaces
// through os.Rename as a LinkError). Per the cross-filesystem move policy,
// the fallback copy skips file/path syncs: the database will simply
// re-request any segment it doesn't see delivered, so the expensive sync is
// not worth paying here.
func (b *Backend) Move(_ context.Context, src, dst string) error {
	fullSrc, fullDst := b.full(src), b.full(dst)
	if err := os.Rename(fullSrc, fullDst); err == nil {
		return nil
	}

	in, err := os.Open(fullSrc)
	if err != nil {
		return fmt.Errorf("posix: move open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(fullDst), 0750); err != nil {
		return fmt.Errorf("posix: move mkdir for %s: %w", dst, err)
	}
	out, err := os.OpenFile(fullDst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("posix: move create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(fullDst)
		return fmt.Errorf("posix: move copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("posix: move close %s: %w", dst, err)
	}
	if err := os.Remove(fullSrc); err != nil {
		return fmt.Errorf("posix: move unlink source %s: %w", src, err)
	}
	return nil
}
