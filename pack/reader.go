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
	"bufio"
	"io"
	"math"
)

// endOfContainer is the sentinel tagNextId takes on when the tag byte read
// was 0 (the teacher format's container/stream terminator).
const endOfContainer = math.MaxUint32

// Reader decodes a pack stream written by Writer. Fields must be requested
// in the same strictly increasing id order they were written in; asking for
// an id that was skipped (never written, or elided as a default) reports it
// as absent rather than erroring.
type Reader struct {
	br    *bufio.Reader
	stack []frame

	tagNextID    uint32 // 0 means "not yet peeked this round"
	tagNextType  Type
	tagNextValue uint64
}

// NewReader wraps r in a pack Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r), stack: []frame{{kind: containerTop}}}
}

func (r *Reader) top() *frame { return &r.stack[len(r.stack)-1] }

// readTagNext reads one raw tag off the wire and decodes its id delta, type
// and inline value, mirroring the writer's bit layout exactly.
func (r *Reader) readTagNext() error {
	b, err := r.br.ReadByte()
	if err != nil {
		return err
	}

	if b == 0 {
		r.tagNextID = endOfContainer
		return nil
	}

	typ := Type(b >> 4)
	info := typeData[typ]
	var id, value uint64

	switch {
	case info.valueMultiBit:
		if b&0x8 != 0 {
			id = uint64(b & 0x3)
			if b&0x4 != 0 {
				hi, err := readUvarint(r.br)
				if err != nil {
					return err
				}
				id |= hi << 2
			}
			value, err = readUvarint(r.br)
			if err != nil {
				return err
			}
		} else {
			id = uint64(b & 0x1)
			if b&0x2 != 0 {
				hi, err := readUvarint(r.br)
				if err != nil {
					return err
				}
				id |= hi << 1
			}
			value = uint64(b>>2) & 0x3
		}
	case info.valueSingleBit:
		id = uint64(b & 0x3)
		if b&0x4 != 0 {
			hi, err := readUvarint(r.br)
			if err != nil {
				return err
			}
			id |= hi << 2
		}
		value = uint64(b>>3) & 0x1
	default:
		id = uint64(b & 0x7)
		if b&0x8 != 0 {
			hi, err := readUvarint(r.br)
			if err != nil {
				return err
			}
			id |= hi << 3
		}
		value = 0
	}

	r.tagNextID = uint32(id) + r.top().idLast + 1
	r.tagNextType = typ
	r.tagNextValue = value
	return nil
}

// readTag is the workhorse behind every ReadXxx call: it advances to the
// requested id, skipping (and discarding the payload of) any fields in
// between, and returns the raw tag value for the caller to decode.
// peek=true is used for NULL probing and container-end checks, and does not
// consume the field or validate its type.
func (r *Reader) readTag(id *uint32, typ Type, peek bool) (uint64, error) {
	top := r.top()
	if *id == 0 {
		*id = top.idLast + 1
	} else if *id <= top.idLast {
		return 0, errorf("field %d was already read", *id)
	}

	for {
		if r.tagNextID == 0 {
			if err := r.readTagNext(); err != nil {
				return 0, err
			}
		}

		if *id < r.tagNextID {
			return 0, nil
		}
		if *id == r.tagNextID {
			if !peek {
				if r.tagNextType != typ {
					return 0, errorf("field %d is type '%s' but expected '%s'", r.tagNextID, r.tagNextType, typ)
				}
				top.idLast = r.tagNextID
				r.tagNextID = 0
			}
			return r.tagNextValue, nil
		}

		// Skip the field we're not looking for.
		if typeData[r.tagNextType].size && r.tagNextValue != 0 {
			n, err := readUvarint(r.br)
			if err != nil {
				return 0, err
			}
			if _, err := io.CopyN(io.Discard, r.br, int64(n)); err != nil {
				return 0, err
			}
		}
		top.idLast = r.tagNextID
		r.tagNextID = 0
	}
}

func (r *Reader) readNull(id *uint32) (bool, error) {
	v, err := r.readTag(id, TypeUnknown, true)
	_ = v
	if err != nil {
		return false, err
	}
	if *id < r.tagNextID {
		r.top().idLast = *id
		return true, nil
	}
	return false, nil
}

// Id returns the id of the field last peeked via Next.
func (r *Reader) Id() uint32 { return r.tagNextID }

// Type returns the type of the field last peeked via Next.
func (r *Reader) Type() Type { return r.tagNextType }

// Next advances to the next field without requesting a specific id, the way
// a generic pack-to-log dumper or a forward-compatible decoder walks an
// unknown schema. It returns false at the end of the current container.
func (r *Reader) Next() (bool, error) {
	if r.tagNextID == 0 {
		if err := r.readTagNext(); err != nil {
			return false, err
		}
	}
	more := r.tagNextID != endOfContainer
	return more, nil
}

func (r *Reader) ArrayBegin(id uint32) error {
	if _, err := r.readTag(&id, TypeArray, false); err != nil {
		return err
	}
	r.stack = append(r.stack, frame{kind: containerArray})
	return nil
}

func (r *Reader) ArrayEnd() error {
	if len(r.stack) == 1 || r.top().kind != containerArray {
		return errorf("not in array")
	}
	id := uint32(math.MaxUint32 - 1)
	if _, err := r.readTag(&id, TypeUnknown, true); err != nil {
		return err
	}
	r.stack = r.stack[:len(r.stack)-1]
	r.tagNextID = 0
	return nil
}

func (r *Reader) ObjBegin(id uint32) error {
	if _, err := r.readTag(&id, TypeObj, false); err != nil {
		return err
	}
	r.stack = append(r.stack, frame{kind: containerObj})
	return nil
}

func (r *Reader) ObjEnd() error {
	if len(r.stack) == 1 || r.top().kind != containerObj {
		return errorf("not in object")
	}
	id := uint32(math.MaxUint32 - 1)
	if _, err := r.readTag(&id, TypeUnknown, true); err != nil {
		return err
	}
	r.stack = r.stack[:len(r.stack)-1]
	r.tagNextID = 0
	return nil
}

func (r *Reader) ReadBool(id uint32, def bool) (bool, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	v, err := r.readTag(&id, TypeBool, false)
	return v != 0, err
}

func (r *Reader) ReadU32(id uint32, def uint32) (uint32, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	v, err := r.readTag(&id, TypeU32, false)
	return uint32(v), err
}

func (r *Reader) ReadU64(id uint32, def uint64) (uint64, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	return r.readTag(&id, TypeU64, false)
}

func (r *Reader) ReadI32(id uint32, def int32) (int32, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	v, err := r.readTag(&id, TypeI32, false)
	return zigZagDecode32(uint32(v)), err
}

func (r *Reader) ReadI64(id uint32, def int64) (int64, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	v, err := r.readTag(&id, TypeI64, false)
	return zigZagDecode64(v), err
}

func (r *Reader) ReadTime(id uint32, def int64) (int64, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	v, err := r.readTag(&id, TypeTime, false)
	return zigZagDecode64(v), err
}

func (r *Reader) ReadStr(id uint32, def string) (string, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return def, err
	}
	hasData, err := r.readTag(&id, TypeStr, false)
	if err != nil {
		return "", err
	}
	if hasData == 0 {
		return "", nil
	}
	n, err := readUvarint(r.br)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *Reader) ReadBin(id uint32) ([]byte, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return nil, err
	}
	hasData, err := r.readTag(&id, TypeBin, false)
	if err != nil {
		return nil, err
	}
	if hasData == 0 {
		return []byte{}, nil
	}
	n, err := readUvarint(r.br)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadPtr reads an in-process pointer-identity value. Only meaningful for
// streams produced in MemMode; a WireMode stream never contains one.
func (r *Reader) ReadPtr(id uint32) (uintptr, error) {
	if null, err := r.readNull(&id); err != nil || null {
		return 0, err
	}
	v, err := r.readTag(&id, TypePtr, false)
	return uintptr(v), err
}

// End consumes any remaining container-end markers up to and including the
// top-level terminator. Callers that have read every field they expect
// still call End to confirm the stream is well-formed and fully drained.
func (r *Reader) End() error {
	for len(r.stack) > 0 {
		id := uint32(math.MaxUint32 - 1)
		if _, err := r.readTag(&id, TypeUnknown, true); err != nil {
			return err
		}
		r.stack = r.stack[:len(r.stack)-1]
	}
	return nil
}
