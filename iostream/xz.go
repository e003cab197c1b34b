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

	"github.com/ulikunitz/xz"
)

// XzDecompressFilter decompresses an xz-compressed repository object.
type XzDecompressFilter struct{}

func (XzDecompressFilter) Name() string { return "xz" }

func (XzDecompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return xz.NewReader(src)
}

// XzCompressFilter is the write-side counterpart.
type XzCompressFilter struct{}

func (XzCompressFilter) Name() string { return "xz" }

func (XzCompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return pipeFilter(src, func(w io.Writer, r io.Reader) error {
		zw, err := xz.NewWriter(w)
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
