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

// Package lock implements the per-stanza advisory lock: held only during
// the fork window, never across deadline waits (spec.md §5). Uses
// golang.org/x/sys/unix.Flock(LOCK_EX|LOCK_NB) the same way advisory file
// locking is conventionally done on Linux, and registers a release-on-exit
// hook via github.com/dc0d/onexit the way the teacher registers its own
// trace-file-close hook in storage.InitSettings, so SIGTERM/SIGINT still
// drop the lock instead of wedging the stanza.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dc0d/onexit"
	"golang.org/x/sys/unix"
)

// ErrContended is returned by Acquire when another process already holds
// the stanza lock -- the "expected, not fatal" lock-contention case §7
// classifies: the foreground simply skips the fork and keeps polling.
var ErrContended = errors.New("lock: stanza lock held by another process")

// Lock is a held advisory lock on one stanza's lock file.
type Lock struct {
	f        *os.File
	path     string
	released sync.Once
}

// Path returns the conventional lock file path for a stanza:
// <lockPath>/<stanza>-archive.lock.
func Path(lockPath, stanza string) string {
	return filepath.Join(lockPath, stanza+"-archive.lock")
}

// Acquire attempts to take the exclusive, non-blocking advisory lock for
// stanza under lockPath. Returns ErrContended (not a fatal error) if
// another process already holds it.
func Acquire(lockPath, stanza string) (*Lock, error) {
	path := Path(lockPath, stanza)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("lock: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrContended
		}
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}

	l := &Lock{f: f, path: path}
	onexit.Register(func() { l.Release() })
	return l, nil
}

// Release drops the lock and closes the underlying file. Safe to call more
// than once; only the first call has any effect.
func (l *Lock) Release() error {
	var err error
	l.released.Do(func() {
		if unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); unlockErr != nil {
			err = fmt.Errorf("lock: unlock %s: %w", l.path, unlockErr)
		}
		l.f.Close()
	})
	return err
}
