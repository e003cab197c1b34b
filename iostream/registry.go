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

import "fmt"

// CompressionByExtension maps a repository object's file extension to the
// decompression filter it implies. It has no entry for .zst, which the
// repository listing in archive.Get also accepts; an object with that
// extension gets no decompression stage.
var CompressionByExtension = map[string]func() Filter{
	".gz":  func() Filter { return GzipDecompressFilter{} },
	".xz":  func() Filter { return XzDecompressFilter{} },
	".lz4": func() Filter { return Lz4DecompressFilter{} },
	".bz2": func() Filter { return Bzip2DecompressFilter{} },
}

// DecompressFilterFor returns the decompression filter implied by ext (as
// returned by filepath.Ext, including the leading dot), or ok=false if ext
// names no known compression -- the caller then treats the object as
// uncompressed.
func DecompressFilterFor(ext string) (Filter, bool) {
	ctor, ok := CompressionByExtension[ext]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// NewReadChain assembles the read-side filter chain for a repository
// object: an optional decryption stage, an optional decompression stage
// (selected by the object's extension), and an optional checksum
// verification stage, in that order -- decrypt before decompress, because
// the encryption envelope wraps the compressed bytes, and verify last so
// the checksum is computed over the plaintext.
func NewReadChain(ext string, passphrase string, expectedSha1 string) Chain {
	var chain Chain
	if passphrase != "" {
		chain = append(chain, CipherDecryptFilter{Passphrase: passphrase})
	}
	if f, ok := DecompressFilterFor(ext); ok {
		chain = append(chain, f)
	}
	if expectedSha1 != "" {
		chain = append(chain, Sha1VerifyFilter{Expected: expectedSha1})
	}
	return chain
}

// ErrUnknownFilter reports a filter name this package does not recognize.
// No function in this package returns it.
var ErrUnknownFilter = fmt.Errorf("iostream: unknown filter name")
