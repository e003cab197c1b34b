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

// Package iostream builds the archive-get read-side filter chain: a
// repository object stream passes through zero or more decompression,
// decryption and checksum-verification stages before it reaches the spool
// file. Every filter wraps an io.Reader in another io.Reader, so the chain
// composes with plain io.Copy.
package iostream

import "io"

// Filter wraps a source reader with a transform. Wrap may read from src
// before it returns: the cipher filter decrypts the whole object there and
// the gzip and xz filters read the stream header; the remaining work
// happens as the caller reads.
type Filter interface {
	// Name identifies the filter for logging.
	Name() string
	// Wrap returns a reader that yields the filtered form of src.
	Wrap(src io.Reader) (io.Reader, error)
}

// Chain composes filters in application order: the first filter wraps the
// repository stream directly, each subsequent filter wraps the previous
// filter's output, so Chain{gzipDecompress, sha1Verify}.Apply(repoStream)
// yields decompressed bytes with the checksum verified against the
// decompressed form -- this mirrors the pgBackRest filter group order,
// where the checksum filter is listed closest to the plaintext.
type Chain []Filter

// Apply wraps src through every filter in order, returning the final reader.
func (c Chain) Apply(src io.Reader) (io.Reader, error) {
	cur := src
	for _, f := range c {
		wrapped, err := f.Wrap(cur)
		if err != nil {
			return nil, err
		}
		cur = wrapped
	}
	return cur, nil
}

// Names lists the chain's filter names in application order, e.g.
// ["gzip", "sha1"].
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name()
	}
	return names
}

// pipeFilter is the shared plumbing behind every compression filter: run the
// real decoder/encoder in a goroutine writing into an io.Pipe, so Wrap can
// return a plain io.Reader without buffering the whole object in memory.
// Grounded on the same io.Pipe-plus-goroutine shape used throughout this
// codebase's stream filters.
func pipeFilter(src io.Reader, run func(w io.Writer, r io.Reader) error) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		err := run(pw, src)
		pw.CloseWithError(err)
	}()
	return pr
}
