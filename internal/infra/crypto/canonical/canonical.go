// Package canonical produces the deterministic JSON encoding that report
// hashes and payload signatures are computed over.
//
// Objects are emitted with keys in byte-wise order, arrays keep their order,
// output is compact (no insignificant whitespace) and HTML characters are not
// escaped. Integers are written as plain decimal digits and other numbers in
// their shortest round-trip form.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for values that have no canonical form,
// e.g. NaN or infinite numbers, channels, functions.
var ErrUnsupported = errors.New("canonical: unsupported value")

// Kind of a Value node.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Member is one object entry.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON tree. Object members are kept sorted by key.
type Value struct {
	kind    Kind
	b       bool
	num     string
	str     string
	items   []Value
	members []Member
}

func (v Value) Kind() Kind { return v.kind }

// Members returns a copy of the sorted object members.
func (v Value) Members() []Member { return slices.Clone(v.members) }

// Items returns a copy of the array elements.
func (v Value) Items() []Value { return slices.Clone(v.items) }

// Get looks up an object member.
func (v Value) Get(key string) (Value, bool) {
	i, ok := slices.BinarySearchFunc(v.members, key, func(m Member, k string) int {
		return strings.Compare(m.Key, k)
	})
	if !ok {
		return Value{}, false
	}
	return v.members[i].Value, true
}

// Str returns the string payload of a String value.
func (v Value) Str() string { return v.str }

// FromAny converts any JSON-marshalable Go value into a Value. A nil *Value
// is Null, as json.Marshal would render it.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Value{}, nil
		}
		return *x, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return Parse(raw)
}

// Parse builds a Value from JSON text.
func Parse(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return fromGeneric(generic)
}

func fromGeneric(g any) (Value, error) {
	switch x := g.(type) {
	case nil:
		return Value{kind: Null}, nil
	case bool:
		return Value{kind: Bool, b: x}, nil
	case string:
		return Value{kind: String, str: x}, nil
	case json.Number:
		n, err := normalizeNumber(x)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: Number, num: n}, nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, it := range x {
			cv, err := fromGeneric(it)
			if err != nil {
				return Value{}, err
			}
			items = append(items, cv)
		}
		return Value{kind: Array, items: items}, nil
	case map[string]any:
		members := make([]Member, 0, len(x))
		for k, it := range x {
			cv, err := fromGeneric(it)
			if err != nil {
				return Value{}, err
			}
			members = append(members, Member{Key: k, Value: cv})
		}
		slices.SortFunc(members, func(a, b Member) int { return strings.Compare(a.Key, b.Key) })
		return Value{kind: Object, members: members}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, g)
	}
}

func normalizeNumber(n json.Number) (string, error) {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(u, 10), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: number %q", ErrUnsupported, s)
	}
	out, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("%w: number %q", ErrUnsupported, s)
	}
	return string(out), nil
}

// Marshal returns the canonical bytes of v.
func Marshal(v any) ([]byte, error) {
	cv, err := FromAny(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, cv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns "0x" + hex(sha256(Marshal(v))).
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.num)
	case String:
		return encodeString(buf, v.str)
	case Array:
		buf.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: kind %d", ErrUnsupported, v.kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
