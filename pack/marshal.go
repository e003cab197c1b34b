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
	"fmt"
	"reflect"
	"strconv"
)

// Marshal and Unmarshal give spool markers and worker IPC payloads a single
// shared encoder: a struct whose exported fields carry a `pack:"<id>"` tag
// becomes one pack object, field order following id order. Supported field
// kinds: string, []byte, bool, int32, int64, uint32, uint64, []string, and
// a nested struct pointer (encoded as a nested object, nil writes NULL).
//
// This is deliberately narrower than the full type-system pckStruct*
// machinery the format could support; it covers exactly what this module's
// wire messages need.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf, WireMode)
	if err := marshalStruct(w, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	if err := w.End(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, v any) error {
	r := NewReader(bytes.NewReader(data))
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("pack: Unmarshal requires a non-nil pointer")
	}
	if err := unmarshalStruct(r, rv.Elem()); err != nil {
		return err
	}
	return r.End()
}

type packField struct {
	id    uint32
	index int
}

func packFields(t reflect.Type) ([]packField, error) {
	var fields []packField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("pack")
		if tag == "" || tag == "-" {
			continue
		}
		id, err := strconv.ParseUint(tag, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("pack: field %s has invalid pack tag %q: %w", sf.Name, tag, err)
		}
		fields = append(fields, packField{id: uint32(id), index: i})
	}
	return fields, nil
}

func marshalStruct(w *Writer, rv reflect.Value) error {
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("pack: Marshal requires a struct, got %s", rv.Kind())
	}
	fields, err := packFields(rv.Type())
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := marshalField(w, f.id, rv.Field(f.index)); err != nil {
			return err
		}
		if err := w.Err(); err != nil {
			return err
		}
	}
	return nil
}

func marshalField(w *Writer, id uint32, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		w.WriteStr(id, fv.String())
	case reflect.Bool:
		w.WriteBool(id, fv.Bool())
	case reflect.Int32:
		w.WriteI32(id, int32(fv.Int()))
	case reflect.Int64:
		w.WriteI64(id, fv.Int())
	case reflect.Uint32:
		w.WriteU32(id, uint32(fv.Uint()))
	case reflect.Uint64:
		w.WriteU64(id, fv.Uint())
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			w.WriteBin(id, fv.Bytes())
			return nil
		}
		if fv.IsNil() {
			w.Null()
			return nil
		}
		w.ArrayBegin(id)
		for i := 0; i < fv.Len(); i++ {
			if err := marshalField(w, 0, fv.Index(i)); err != nil {
				return err
			}
		}
		w.ArrayEnd()
	case reflect.Ptr:
		if fv.IsNil() {
			w.Null()
			return nil
		}
		w.ObjBegin(id)
		if err := marshalStruct(w, fv); err != nil {
			return err
		}
		w.ObjEnd()
	case reflect.Struct:
		w.ObjBegin(id)
		if err := marshalStruct(w, fv); err != nil {
			return err
		}
		w.ObjEnd()
	default:
		return fmt.Errorf("pack: unsupported field kind %s", fv.Kind())
	}
	return nil
}

func unmarshalStruct(r *Reader, rv reflect.Value) error {
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("pack: Unmarshal requires a struct, got %s", rv.Kind())
	}
	fields, err := packFields(rv.Type())
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := unmarshalField(r, f.id, rv.Field(f.index)); err != nil {
			return fmt.Errorf("pack: field %d (%s): %w", f.id, rv.Type().Field(f.index).Name, err)
		}
	}
	return nil
}

func unmarshalField(r *Reader, id uint32, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		v, err := r.ReadStr(id, "")
		if err != nil {
			return err
		}
		fv.SetString(v)
	case reflect.Bool:
		v, err := r.ReadBool(id, false)
		if err != nil {
			return err
		}
		fv.SetBool(v)
	case reflect.Int32:
		v, err := r.ReadI32(id, 0)
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
	case reflect.Int64:
		v, err := r.ReadI64(id, 0)
		if err != nil {
			return err
		}
		fv.SetInt(v)
	case reflect.Uint32:
		v, err := r.ReadU32(id, 0)
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
	case reflect.Uint64:
		v, err := r.ReadU64(id, 0)
		if err != nil {
			return err
		}
		fv.SetUint(v)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			v, err := r.ReadBin(id)
			if err != nil {
				return err
			}
			fv.SetBytes(v)
			return nil
		}
		null, err := r.readNull(&id)
		if err != nil {
			return err
		}
		if null {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		if err := r.ArrayBegin(id); err != nil {
			return err
		}
		elemType := fv.Type().Elem()
		out := reflect.MakeSlice(fv.Type(), 0, 4)
		for {
			more, err := r.Next()
			if err != nil {
				return err
			}
			if !more {
				break
			}
			elem := reflect.New(elemType).Elem()
			if err := unmarshalField(r, 0, elem); err != nil {
				return err
			}
			out = reflect.Append(out, elem)
		}
		if err := r.ArrayEnd(); err != nil {
			return err
		}
		fv.Set(out)
	case reflect.Ptr:
		null, err := r.readNull(&id)
		if err != nil {
			return err
		}
		if null {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		if err := r.ObjBegin(id); err != nil {
			return err
		}
		target := reflect.New(fv.Type().Elem())
		if err := unmarshalStruct(r, target.Elem()); err != nil {
			return err
		}
		if err := r.ObjEnd(); err != nil {
			return err
		}
		fv.Set(target)
	case reflect.Struct:
		if err := r.ObjBegin(id); err != nil {
			return err
		}
		if err := unmarshalStruct(r, fv); err != nil {
			return err
		}
		if err := r.ObjEnd(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pack: unsupported field kind %s", fv.Kind())
	}
	return nil
}

// FieldNameForID is a small debugging helper that renders a field id as
// its struct field name, for an unknown-field format error, without the
// caller reflecting over the struct again.
func FieldNameForID(t reflect.Type, id uint32) string {
	fields, err := packFields(t)
	if err != nil {
		return strconv.FormatUint(uint64(id), 10)
	}
	for _, f := range fields {
		if f.id == id {
			return t.Field(f.index).Name
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}
