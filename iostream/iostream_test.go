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
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

const plainWalSegment = "0000000100000000000000FAwal-segment-fixture-bytes-not-real-but-long-enough-to-exercise-chunked-reads-properly"

func compress(t *testing.T, f Filter, plain string) []byte {
	t.Helper()
	r, err := f.Wrap(bytes.NewReader([]byte(plain)))
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestGzipRoundTrip(t *testing.T) {
	compressed := compress(t, GzipCompressFilter{}, plainWalSegment)
	r, err := GzipDecompressFilter{}.Wrap(bytes.NewReader(compressed))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestXzRoundTrip(t *testing.T) {
	compressed := compress(t, XzCompressFilter{}, plainWalSegment)
	r, err := XzDecompressFilter{}.Wrap(bytes.NewReader(compressed))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestLz4RoundTrip(t *testing.T) {
	compressed := compress(t, Lz4CompressFilter{}, plainWalSegment)
	r, err := Lz4DecompressFilter{}.Wrap(bytes.NewReader(compressed))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestCipherRoundTrip(t *testing.T) {
	enc := CipherEncryptFilter{Passphrase: "correct-horse-battery-staple"}
	ciphertextReader, err := enc.Wrap(bytes.NewReader([]byte(plainWalSegment)))
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(ciphertextReader)
	require.NoError(t, err)

	dec := CipherDecryptFilter{Passphrase: "correct-horse-battery-staple"}
	plainReader, err := dec.Wrap(bytes.NewReader(ciphertext))
	require.NoError(t, err)
	out, err := io.ReadAll(plainReader)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestCipherWrongPassphraseFails(t *testing.T) {
	enc := CipherEncryptFilter{Passphrase: "right-phrase"}
	ciphertextReader, err := enc.Wrap(bytes.NewReader([]byte(plainWalSegment)))
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(ciphertextReader)
	require.NoError(t, err)

	dec := CipherDecryptFilter{Passphrase: "wrong-phrase"}
	plainReader, err := dec.Wrap(bytes.NewReader(ciphertext))
	require.NoError(t, err)
	_, err = io.ReadAll(plainReader)
	require.Error(t, err, "wrong key should produce invalid padding, not silently wrong plaintext")
}

func TestSha1VerifyPassesMatchingChecksum(t *testing.T) {
	sum := fmt.Sprintf("%x", sha1.Sum([]byte(plainWalSegment)))
	f := Sha1VerifyFilter{Expected: sum}
	r, err := f.Wrap(bytes.NewReader([]byte(plainWalSegment)))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestSha1VerifyFailsOnMismatch(t *testing.T) {
	f := Sha1VerifyFilter{Expected: "0000000000000000000000000000000000000000"}
	r, err := f.Wrap(bytes.NewReader([]byte(plainWalSegment)))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.Error(t, err)
}

func TestChainAppliesInOrder(t *testing.T) {
	compressed := compress(t, GzipCompressFilter{}, plainWalSegment)
	sum := fmt.Sprintf("%x", sha1.Sum([]byte(plainWalSegment)))

	chain := Chain{GzipDecompressFilter{}, Sha1VerifyFilter{Expected: sum}}
	require.Equal(t, []string{"gzip", "sha1"}, chain.Names())

	r, err := chain.Apply(bytes.NewReader(compressed))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plainWalSegment, string(out))
}

func TestNewReadChainSelectsByExtension(t *testing.T) {
	chain := NewReadChain(".gz", "", "")
	require.Equal(t, []string{"gzip"}, chain.Names())

	chain = NewReadChain(".unknown", "", "")
	require.Empty(t, chain)
}
