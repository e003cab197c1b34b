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
	"compress/bzip2"
	"io"
)

// Bzip2DecompressFilter decompresses a bzip2-compressed repository object.
// Decode-only, matching the Go standard library's compress/bzip2, which
// never shipped an encoder; a repository bzip2 archive can only have been
// produced by some other tool, so this module's job is reading it back, not
// writing new ones.
type Bzip2DecompressFilter struct{}

func (Bzip2DecompressFilter) Name() string { return "bz2" }

func (Bzip2DecompressFilter) Wrap(src io.Reader) (io.Reader, error) {
	return bzip2.NewReader(src), nil
}
