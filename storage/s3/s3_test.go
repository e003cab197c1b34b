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
package s3

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPrefixing(t *testing.T) {
	b := New(Config{Bucket: "repo", Prefix: "10-1"})
	require.Equal(t, "10-1/000000010000000000000000/SEG", b.key("/000000010000000000000000/SEG"))

	noPrefix := New(Config{Bucket: "repo"})
	require.Equal(t, "SEG", noPrefix.key("SEG"))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(fmt.Errorf("operation error S3: GetObject, https response error StatusCode: 404, NoSuchKey")))
	require.False(t, isNotFound(fmt.Errorf("connection refused")))
}
