package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindBool
	KindInt
	KindJSON
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindBool:    "bool",
	KindInt:     "int",
	KindJSON:    "json",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// ParseKind maps a stored kind name back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindInvalid {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, name)
}

// ErrInvalidValue is returned when a stored value does not decode as its
// declared kind.
var ErrInvalidValue = errors.New("settings: invalid value")

// Value is a typed setting. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  int64
	flag bool
	doc  json.RawMessage
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, flag: b} }
func IntValue(n int64) Value     { return Value{kind: KindInt, num: n} }

// JSONValue marshals v into a JSON-kind Value.
func JSONValue(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return Value{kind: KindJSON, doc: raw}, nil
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsBool() (bool, bool)     { return v.flag, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.num, v.kind == KindInt }

// AsJSON returns the raw document of a JSON-kind Value.
func (v Value) AsJSON() (json.RawMessage, bool) {
	if v.kind != KindJSON {
		return nil, false
	}
	return append(json.RawMessage(nil), v.doc...), true
}

// DecodeJSON unmarshals a JSON-kind Value into dst.
func (v Value) DecodeJSON(dst any) error {
	if v.kind != KindJSON {
		return fmt.Errorf("%w: %s is not json", ErrInvalidValue, v.kind)
	}
	return json.Unmarshal(v.doc, dst)
}

// Encode returns the persisted form of v.
func (v Value) Encode() (Kind, string) {
	switch v.kind {
	case KindString:
		return v.kind, v.str
	case KindBool:
		return v.kind, strconv.FormatBool(v.flag)
	case KindInt:
		return v.kind, strconv.FormatInt(v.num, 10)
	case KindJSON:
		return v.kind, string(v.doc)
	}
	return KindInvalid, ""
}

// Decode rebuilds a Value from its persisted form.
func Decode(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindString:
		return StringValue(raw), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return BoolValue(b), nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return IntValue(n), nil
	case KindJSON:
		if !json.Valid([]byte(raw)) {
			return Value{}, fmt.Errorf("%w: malformed json", ErrInvalidValue)
		}
		return Value{kind: KindJSON, doc: json.RawMessage(raw)}, nil
	}
	return Value{}, fmt.Errorf("%w: kind %s", ErrInvalidValue, kind)
}

// marshalTagged packs kind and raw into one string for layers that store
// a single opaque blob.
func marshalTagged(v Value) string {
	kind, raw := v.Encode()
	return kind.String() + ":" + raw
}

func unmarshalTagged(s string) (Value, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			kind, err := ParseKind(s[:i])
			if err != nil {
				return Value{}, err
			}
			return Decode(kind, s[i+1:])
		}
	}
	return Value{}, fmt.Errorf("%w: missing kind tag", ErrInvalidValue)
}
