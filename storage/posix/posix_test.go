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
package posix

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walarc/walarc/storage"
)

func TestAtomicWriteNeverExposesPartialFile(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)
	ctx := context.Background()

	w, err := b.NewWrite(ctx, "seg.tmp-target", storage.WriteOptions{Atomic: true, SyncFile: true, SyncPath: true})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	exists, err := b.Exists(ctx, "seg.tmp-target")
	require.NoError(t, err)
	require.False(t, exists, "final name must not exist before Close renames into place")

	require.NoError(t, w.Close())
	exists, err = b.Exists(ctx, "seg.tmp-target")
	require.NoError(t, err)
	require.True(t, exists)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover .tmp file after a successful atomic write")
}

func TestMoveDeliversByteIdenticalContentAndRemovesSource(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg"), []byte("segment-bytes"), 0640))
	require.NoError(t, b.Move(ctx, "seg", "sub/delivered"))

	data, err := os.ReadFile(filepath.Join(dir, "sub", "delivered"))
	require.NoError(t, err)
	require.Equal(t, "segment-bytes", string(data))

	_, statErr := os.Stat(filepath.Join(dir, "seg"))
	require.True(t, os.IsNotExist(statErr), "source must be gone after move")
}

func TestListSortsAscendingAndFilters(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)
	ctx := context.Background()

	for _, name := range []string{"c.error", "a", "b.ok", "zzz-ignore"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0640))
	}

	names, err := b.List(ctx, "", storage.ListOptions{Regex: `^[ab]`, SortAscending: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b.ok"}, names)
}

func TestReadMissingWithIgnoreMissing(t *testing.T) {
	b := New(t.TempDir())
	ctx := context.Background()

	r, ok, err := b.NewRead(ctx, "nope", storage.ReadOptions{IgnoreMissing: true})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, r)

	_, _, err = b.NewRead(ctx, "nope", storage.ReadOptions{})
	require.Error(t, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	b := New(t.TempDir())
	ctx := context.Background()

	w, err := b.NewWrite(ctx, "x", storage.WriteOptions{Atomic: true})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, ok, err := b.NewRead(ctx, "x", storage.ReadOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.NoError(t, r.Close())
}
