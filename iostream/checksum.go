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
	"crypto/sha1"
	"fmt"
	"hash"
	"io"
)

// Sha1VerifyFilter passes bytes through unchanged while hashing them, and
// fails the read with a mismatch error when the source reaches EOF without
// the hash matching Expected. It is placed last in the
// chain (closest to the plaintext) so it verifies the content actually
// delivered to the spool file, not the compressed/encrypted wire form.
type Sha1VerifyFilter struct {
	Expected string
}

func (Sha1VerifyFilter) Name() string { return "sha1" }

func (f Sha1VerifyFilter) Wrap(src io.Reader) (io.Reader, error) {
	return &hashVerifyReader{src: src, h: sha1.New(), expected: f.Expected, want: sha1.Size}, nil
}

type hashVerifyReader struct {
	src      io.Reader
	h        hash.Hash
	expected string
	want     int
	done     bool
}

func (r *hashVerifyReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
	}
	if err == io.EOF && !r.done {
		r.done = true
		sum := fmt.Sprintf("%x", r.h.Sum(nil))
		if sum != r.expected {
			return n, fmt.Errorf("iostream: checksum mismatch: expected %s, got %s", r.expected, sum)
		}
	}
	return n, err
}
