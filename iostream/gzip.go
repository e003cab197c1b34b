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
	"compress/gzip"
	"io"
)

// GzipDecompressFilter decompresses a gzip-compressed repository object, the
// most common compression a WAL segment is archived under.
type GzipDecompressFilter struct{}

func (GzipDecompressFilter) Name() string { return "gzip" }

func (GzipDecompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return gzip.NewReader(src)
}

// GzipCompressFilter is the write-side counterpart, used by tooling that
// needs to produce gzip-compressed fixtures for the archive-get tests.
type GzipCompressFilter struct{ Level int }

func (GzipCompressFilter) Name() string { return "gzip" }

func (f GzipCompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	level := f.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return pipeFilter(src, func(w io.Writer, r io.Reader) error {
		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}), nil
}
