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
package iostream

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// Lz4DecompressFilter decompresses an lz4-compressed repository object. lz4
// is the fastest of the supported compressions and the teacher corpus
// already depends on pierrec/lz4/v4, so it is wired here rather than
// re-implemented.
type Lz4DecompressFilter struct{}

func (Lz4DecompressFilter) Name() string { return "lz4" }

func (Lz4DecompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return lz4.NewReader(src), nil
}

// Lz4CompressFilter is the write-side counterpart.
type Lz4CompressFilter struct{}

func (Lz4CompressFilter) Name() string { return "lz4" }

func (Lz4CompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return pipeFilter(src, func(w io.Writer, r io.Reader) error {
		zw := lz4.NewWriter(w)
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}), nil
}
