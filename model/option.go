package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OptionKind is the primitive type of an option field.
type OptionKind string

const (
	KindNumber OptionKind = "number"
	KindString OptionKind = "string"
	KindBool   OptionKind = "bool"
)

// OptionField describes one configurable key of an action or reaction.
// Default is the example value the backend ships in the schema.
type OptionField struct {
	Name    string     `json:"name"`
	Kind    OptionKind `json:"kind"`
	Default any        `json:"default,omitempty"`
}

// OptionSchema is the ordered set of fields a type declares.
type OptionSchema []OptionField

// ParseOptionSchema reads a type's option payload. The backend sends either
// an object of example values or that object encoded as a JSON string; the
// kind of each field follows the JSON type of its example value.
func ParseOptionSchema(raw json.RawMessage) (OptionSchema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return OptionSchema{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("option schema: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return OptionSchema{}, nil
		}
		raw = json.RawMessage(s)
	}

	var values map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("option schema: %w", err)
	}

	schema := make(OptionSchema, 0, len(values))
	for name, v := range values {
		f := OptionField{Name: name, Kind: KindString, Default: v}
		switch dv := v.(type) {
		case json.Number:
			f.Kind = KindNumber
			if n, err := dv.Float64(); err == nil {
				f.Default = n
			}
		case bool:
			f.Kind = KindBool
		case string:
		default:
			// Nested values are edited as their JSON text.
			b, _ := json.Marshal(dv)
			f.Default = string(b)
		}
		schema = append(schema, f)
	}
	sort.Slice(schema, func(i, j int) bool { return schema[i].Name < schema[j].Name })
	return schema, nil
}

// Field returns the named field.
func (s OptionSchema) Field(name string) (OptionField, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return OptionField{}, false
}

// Defaults returns the example values keyed by field name.
func (s OptionSchema) Defaults() map[string]any {
	out := make(map[string]any, len(s))
	for _, f := range s {
		out[f.Name] = f.Default
	}
	return out
}

// Coerce converts raw user input into typed option values. Numeric fields
// parse as float64 and bool fields as bool; everything else stays a string.
// Keys the schema does not declare, and values that fail to parse, are
// reported together as a VALIDATION_ERROR.
func (s OptionSchema) Coerce(input map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(input))
	var details []FieldError

	names := make([]string, 0, len(input))
	for k := range input {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := input[name]
		f, ok := s.Field(name)
		if !ok {
			details = append(details, FieldError{Field: name, Code: "UNKNOWN_FIELD", Message: "is not declared by this type"})
			continue
		}
		v, err := f.parse(raw)
		if err != nil {
			details = append(details, FieldError{Field: name, Code: "INVALID_TYPE", Message: fmt.Sprintf("must be a %s", f.Kind)})
			continue
		}
		out[name] = v
	}

	if len(details) > 0 {
		return nil, NewValidationError(details)
	}
	return out, nil
}

// Check verifies that already-typed values use only declared keys and match
// their declared kinds.
func (s OptionSchema) Check(values map[string]any) error {
	var details []FieldError
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := s.Field(name)
		if !ok {
			details = append(details, FieldError{Field: name, Code: "UNKNOWN_FIELD", Message: "is not declared by this type"})
			continue
		}
		if !f.accepts(values[name]) {
			details = append(details, FieldError{Field: name, Code: "INVALID_TYPE", Message: fmt.Sprintf("must be a %s", f.Kind)})
		}
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

func (f OptionField) parse(raw string) (any, error) {
	switch f.Kind {
	case KindNumber:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

func (f OptionField) accepts(v any) bool {
	switch f.Kind {
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, uint64, json.Number:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}
