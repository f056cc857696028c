package protocol

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Decoder turns a JSON value into a typed payload plus any object fields the
// payload type does not map.
type Decoder func(raw json.RawMessage) (value any, additional map[string]any, err error)

// DecoderFor returns a Decoder producing values of type T.
func DecoderFor[T any]() Decoder {
	typ := reflect.TypeFor[T]()
	return func(raw json.RawMessage) (any, map[string]any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, nil, err
		}
		extra, err := unmappedFields(raw, typ)
		if err != nil {
			return nil, nil, err
		}
		return v, extra, nil
	}
}

// fieldCache maps a struct type to the set of lower-cased JSON names it
// decodes.
var fieldCache sync.Map // map[reflect.Type]map[string]struct{}

// unmappedFields returns the members of a JSON object that do not correspond
// to a field of typ. Non-struct targets map every member.
func unmappedFields(raw json.RawMessage, typ reflect.Type) (map[string]any, error) {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, err
	}

	known := knownFields(typ)
	var extra map[string]any
	for name, value := range members {
		if _, ok := known[strings.ToLower(name)]; ok {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[name] = v
	}
	return extra, nil
}

func knownFields(typ reflect.Type) map[string]struct{} {
	if cached, ok := fieldCache.Load(typ); ok {
		return cached.(map[string]struct{})
	}

	names := make(map[string]struct{})
	collectFields(typ, names)
	actual, _ := fieldCache.LoadOrStore(typ, names)
	return actual.(map[string]struct{})
}

// collectFields follows encoding/json's naming: the tag name when present,
// otherwise the Go field name, matched case-insensitively. Untagged
// embedded structs contribute their own fields.
func collectFields(typ reflect.Type, names map[string]struct{}) {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, names)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[strings.ToLower(name)] = struct{}{}
	}
}
