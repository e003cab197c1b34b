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
package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderScalarRoundTrip(t *testing.T) {
	w, buf := NewMemWriter()
	w.WriteU32(1, 42)
	w.WriteStr(2, "archive-get")
	w.WriteBool(3, true)
	w.WriteI64(4, -9001)
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	u, err := r.ReadU32(1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(42), u)

	s, err := r.ReadStr(2, "")
	require.NoError(t, err)
	require.Equal(t, "archive-get", s)

	b, err := r.ReadBool(3, false)
	require.NoError(t, err)
	require.True(t, b)

	i, err := r.ReadI64(4, 0)
	require.NoError(t, err)
	require.Equal(t, int64(-9001), i)

	require.NoError(t, r.End())
}

func TestWriterSkipsNulledFields(t *testing.T) {
	w, buf := NewMemWriter()
	w.WriteU32(1, 0) // elided as default
	w.WriteStr(2, "present")
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	u, err := r.ReadU32(1, 7)
	require.NoError(t, err)
	require.Equal(t, uint32(7), u, "default should be returned for the elided field")

	s, err := r.ReadStr(2, "")
	require.NoError(t, err)
	require.Equal(t, "present", s)
	require.NoError(t, r.End())
}

func TestReaderSkipsUnrequestedFields(t *testing.T) {
	w, buf := NewMemWriter()
	w.WriteStr(1, "ignored")
	w.WriteBin(2, []byte("also ignored"))
	w.WriteU64(3, 123456789)
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	v, err := r.ReadU64(3, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), v)
	require.NoError(t, r.End())
}

func TestNestedObjectAndArray(t *testing.T) {
	w, buf := NewMemWriter()
	w.ObjBegin(1)
	w.WriteStr(1, "child")
	w.ArrayBegin(2)
	w.WriteU32(0, 1)
	w.WriteU32(0, 2)
	w.WriteU32(0, 3)
	w.ArrayEnd()
	w.ObjEnd()
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, r.ObjBegin(1))
	name, err := r.ReadStr(1, "")
	require.NoError(t, err)
	require.Equal(t, "child", name)

	require.NoError(t, r.ArrayBegin(2))
	var got []uint32
	for {
		more, err := r.Next()
		require.NoError(t, err)
		if !more {
			break
		}
		v, err := r.ReadU32(0, 0)
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []uint32{1, 2, 3}, got)
	require.NoError(t, r.ArrayEnd())
	require.NoError(t, r.ObjEnd())
	require.NoError(t, r.End())
}

func TestWireModeRefusesPointer(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf, WireMode)
	w.WritePtr(1, 0xdead)
	require.Error(t, w.Err())
}

func TestFieldReadTwiceIsAnError(t *testing.T) {
	w, buf := NewMemWriter()
	w.WriteU32(1, 5)
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	_, err := r.ReadU32(1, 0)
	require.NoError(t, err)
	_, err = r.ReadU32(1, 0)
	require.Error(t, err)
}

func TestFieldTypeMismatchIsAnError(t *testing.T) {
	w, buf := NewMemWriter()
	w.WriteStr(1, "not a number")
	require.NoError(t, w.End())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	_, err := r.ReadU32(1, 0)
	require.Error(t, err)
}

type innerRecord struct {
	Label string `pack:"1"`
	Count int32  `pack:"2"`
}

type outerRecord struct {
	Name     string       `pack:"1"`
	Segments []string     `pack:"2"`
	Payload  []byte       `pack:"3"`
	Warn     bool         `pack:"4"`
	Inner    *innerRecord `pack:"5"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := outerRecord{
		Name:     "000000010000000000000003",
		Segments: []string{"a", "b", "c"},
		Payload:  []byte{0x01, 0x02, 0x03},
		Warn:     true,
		Inner:    &innerRecord{Label: "ok", Count: 7},
	}

	data, err := Marshal(&in)
	require.NoError(t, err)

	var out outerRecord
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestMarshalUnmarshalNilPointerField(t *testing.T) {
	in := outerRecord{Name: "x"}
	data, err := Marshal(&in)
	require.NoError(t, err)

	var out outerRecord
	require.NoError(t, Unmarshal(data, &out))
	require.Nil(t, out.Inner)
	require.Equal(t, "x", out.Name)
}
