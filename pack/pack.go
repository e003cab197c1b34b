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
// Package pack implements the tagged, gap-encoded binary record format used
// for worker IPC frames and spool markers. It is a bit-exact Go port of the
// id-delta tag scheme: every field carries a type nibble and an encoded
// delta from the previously written/read field id, so omitted (NULL) fields
// cost nothing but a delta bump on the next real field.
package pack

import "fmt"

// Type identifies the wire type of a single pack field. Numeric values are
// part of the wire format and must not be renumbered.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeArray
	TypeBin
	TypeBool
	TypeI32
	TypeI64
	TypeObj
	TypePtr
	TypeStr
	TypeTime
	TypeU32
	TypeU64
)

func (t Type) String() string {
	if int(t) < len(typeData) {
		return typeData[t].name
	}
	return "unknown"
}

type typeInfo struct {
	name           string
	size           bool // field carries a following length-prefixed payload
	valueSingleBit bool // value fits in one tag bit (bool)
	valueMultiBit  bool // value may need bits beyond the tag (ints, ptr)
}

// typeData mirrors the teacher format's per-type classification used by both
// the tag writer and reader to decide how a value is packed into/out of the
// tag byte.
var typeData = [...]typeInfo{
	TypeUnknown: {name: "unknown"},
	TypeArray:   {name: "array"},
	TypeBin:     {name: "bin", size: true, valueSingleBit: true},
	TypeBool:    {name: "bool", valueSingleBit: true},
	TypeI32:     {name: "i32", valueMultiBit: true},
	TypeI64:     {name: "i64", valueMultiBit: true},
	TypeObj:     {name: "obj"},
	TypePtr:     {name: "ptr", valueMultiBit: true},
	TypeStr:     {name: "str", size: true, valueSingleBit: true},
	TypeTime:    {name: "time", valueMultiBit: true},
	TypeU32:     {name: "u32", valueMultiBit: true},
	TypeU64:     {name: "u64", valueMultiBit: true},
}

// Mode restricts what a Writer may emit. WireMode is used for anything that
// leaves the process (worker IPC, spool markers) and refuses to emit
// TypePtr, since a pointer value has no meaning to a different process.
// MemMode lifts that restriction for purely in-process encodings.
type Mode int

const (
	WireMode Mode = iota
	MemMode
)

// FormatError is returned for any malformed or out-of-protocol pack stream:
// truncated varints, an id read twice, an id whose type doesn't match what
// the caller asked for, or container begin/end called out of turn.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "pack: " + e.Msg }

func errorf(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// containerKind tracks which container a tag stack frame belongs to, so
// ArrayEnd/ObjEnd can refuse to close the wrong kind of container.
type containerKind uint8

const (
	containerTop containerKind = iota
	containerArray
	containerObj
)

type frame struct {
	kind      containerKind
	idLast    uint32
	nullTotal uint32
}
