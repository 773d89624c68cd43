package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// visitKey identifies a reference. The type is part of the key so a pointer
// to a struct and a pointer to its first field are distinct.
type visitKey struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type safeEncoder struct {
	buf  bytes.Buffer
	seen map[visitKey]struct{}
}

// EncodeSafe encodes v as JSON, replacing every pointer, map or slice that
// was already visited in this pass with CircularMarker. Struct fields follow
// encoding/json naming: exported only, `json` tag name, omitempty and "-".
func EncodeSafe(v any) ([]byte, error) {
	e := &safeEncoder{seen: make(map[visitKey]struct{})}
	if err := e.encode(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

func (e *safeEncoder) encode(v reflect.Value) error {
	if !v.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(v.Elem())
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() > 0 {
			key := visitKey{ptr: v.Pointer(), typ: v.Type()}
			if v.Kind() == reflect.Slice {
				key.n = v.Len()
			}
			if _, ok := e.seen[key]; ok {
				e.writeString(CircularMarker)
				return nil
			}
			e.seen[key] = struct{}{}
		}
	}

	if implementsMarshaler(v) {
		out, err := json.Marshal(v.Interface())
		if err != nil {
			return err
		}
		e.buf.Write(out)
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		return e.encode(v.Elem())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		out, err := json.Marshal(v.Float())
		if err != nil {
			return err
		}
		e.buf.Write(out)
	case reflect.String:
		e.writeString(v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			out, err := json.Marshal(v.Bytes())
			if err != nil {
				return err
			}
			e.buf.Write(out)
			return nil
		}
		return e.encodeList(v)
	case reflect.Array:
		return e.encodeList(v)
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Struct:
		e.buf.WriteByte('{')
		first := true
		if err := e.encodeFields(v, &first, map[string]bool{}); err != nil {
			return err
		}
		e.buf.WriteByte('}')
	default:
		return &json.UnsupportedTypeError{Type: v.Type()}
	}
	return nil
}

func (e *safeEncoder) encodeList(v reflect.Value) error {
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(v.Index(i)); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *safeEncoder) encodeMap(v reflect.Value) error {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := mapKey(iter.Key())
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	e.buf.WriteByte('{')
	for i, ent := range entries {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.writeString(ent.key)
		e.buf.WriteByte(':')
		if err := e.encode(ent.val); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

// encodeFields writes the fields of struct v. Embedded structs without a
// tag name are flattened into the enclosing object; the first field to
// claim a name wins.
func (e *safeEncoder) encodeFields(v reflect.Value, first *bool, names map[string]bool) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := e.encodeFields(fv, first, names); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if names[name] {
			continue
		}
		if strings.Contains(","+opts+",", ",omitempty,") && isEmptyValue(fv) {
			continue
		}
		names[name] = true

		if !*first {
			e.buf.WriteByte(',')
		}
		*first = false
		e.writeString(name)
		e.buf.WriteByte(':')
		if err := e.encode(fv); err != nil {
			return err
		}
	}
	return nil
}

func (e *safeEncoder) writeString(s string) {
	out, _ := json.Marshal(s)
	e.buf.Write(out)
}

func implementsMarshaler(v reflect.Value) bool {
	if !v.CanInterface() {
		return false
	}
	t := v.Type()
	return t.Implements(marshalerType) || t.Implements(textMarshalerType)
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", nil
		}
		b, err := tm.MarshalText()
		return string(b), err
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("codec: unsupported map key type %s", k.Type())
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
