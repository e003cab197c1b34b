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
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
)

// saltMagic prefixes an encrypted repository object the same way OpenSSL's
// EVP_BytesToKey-based "Salted__" header does: an 8-byte magic, an 8-byte
// salt, then the ciphertext. There's no kept reference source for the
// repository's exact cipher envelope, so this derives a key/IV pair from
// the passphrase and salt with a plain SHA-256 stretch -- simpler than
// OpenSSL's MD5-based KDF, but the same shape.
var saltMagic = [8]byte{'w', 'a', 'l', 'a', 'r', 'c', 0x01, 0x00}

const saltLen = 8

// CipherDecryptFilter decrypts an AES-256-CBC-encrypted repository object.
// Block mode requires the whole ciphertext to be framed before decrypting,
// so unlike the compression filters this reads the full input before
// yielding any plaintext.
type CipherDecryptFilter struct {
	Passphrase string
}

func (CipherDecryptFilter) Name() string { return "cipher-block" }

func (f CipherDecryptFilter) Wrap(src io.Reader) (io.Reader, error) {
	header := make([]byte, len(saltMagic)+saltLen)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, fmt.Errorf("iostream: cipher header: %w", err)
	}
	if !bytes.Equal(header[:len(saltMagic)], saltMagic[:]) {
		return nil, fmt.Errorf("iostream: repository object is not encrypted with the expected envelope")
	}
	salt := header[len(saltMagic):]

	key, iv := deriveKeyIV(f.Passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("iostream: ciphertext is not a multiple of the block size")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(plaintext), nil
}

// CipherEncryptFilter is the write-side counterpart.
type CipherEncryptFilter struct {
	Passphrase string
	salt       [saltLen]byte
}

func (CipherEncryptFilter) Name() string { return "cipher-block" }

func (f CipherEncryptFilter) Wrap(src io.Reader) (io.Reader, error) {
	salt := f.salt
	key, iv := deriveKeyIV(f.Passphrase, salt[:])
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := &bytes.Buffer{}
	out.Write(saltMagic[:])
	out.Write(salt[:])
	out.Write(ciphertext)
	return out, nil
}

// deriveKeyIV stretches a passphrase and salt into a 32-byte AES-256 key and
// a 16-byte IV via two rounds of SHA-256, the same two-stage shape as
// EVP_BytesToKey without depending on the deprecated MD5 digest it uses.
func deriveKeyIV(passphrase string, salt []byte) (key, iv []byte) {
	h1 := sha256.Sum256(append([]byte(passphrase), salt...))
	h2 := sha256.Sum256(append(h1[:], append([]byte(passphrase), salt...)...))
	return h1[:], h2[:aes.BlockSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("iostream: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("iostream: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}
