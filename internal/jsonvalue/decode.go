package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

var (
	// ErrEmpty is returned when the input holds no JSON text at all.
	ErrEmpty = errors.New("jsonvalue: empty input")
	// ErrSyntax is returned for input that is not a single well-formed JSON value.
	ErrSyntax = errors.New("jsonvalue: malformed JSON")
)

// Decode parses one JSON document into a Value, preserving object key order.
//
// The whole input is checked with json.Valid first; the walk itself uses
// jsonparser, which is permissive about trailing garbage and would otherwise
// accept inputs encoding/json rejects.
func Decode(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Value{}, ErrEmpty
	}
	if !json.Valid(data) {
		return Value{}, ErrSyntax
	}
	data = replaceLoneSurrogates(data)
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return decodeValue(raw, typ)
}

// MustDecode is Decode for literals in tests and examples. It panics on error.
func MustDecode(s string) Value {
	v, err := Decode([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decodeValue(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return NullValue(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return BoolValue(b), nil
	case jsonparser.Number:
		return NumberLiteral(string(raw)), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return StringValue(s), nil
	case jsonparser.Array:
		return decodeArray(raw)
	case jsonparser.Object:
		return decodeObject(raw)
	default:
		return Value{}, fmt.Errorf("%w: unexpected token type %s", ErrSyntax, typ)
	}
}

func decodeArray(raw []byte) (Value, error) {
	elems := []Value{}
	var firstErr error
	_, err := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, cbErr error) {
		if firstErr != nil {
			return
		}
		if cbErr != nil {
			firstErr = cbErr
			return
		}
		v, err := decodeValue(value, dataType)
		if err != nil {
			firstErr = err
			return
		}
		elems = append(elems, v)
	})
	if firstErr != nil {
		return Value{}, firstErr
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return ArrayValue(elems...), nil
}

func decodeObject(raw []byte) (Value, error) {
	var members []Member
	err := jsonparser.ObjectEach(raw, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		v, err := decodeValue(value, dataType)
		if err != nil {
			return err
		}
		// ObjectEach hands over keys already unescaped.
		members = append(members, Member{Key: string(key), Value: v})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSyntax) {
			return Value{}, err
		}
		return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return ObjectValue(members...), nil
}

// replaceLoneSurrogates rewrites \u escapes of unpaired UTF-16 surrogates to
// \ufffd, which is what encoding/json decodes them to. jsonparser rejects
// them. data must already be valid JSON; it is copied only when changed.
func replaceLoneSurrogates(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u`)) {
		return data
	}
	out := data
	copied := false
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			continue
		}
		if data[i+1] != 'u' {
			i++
			continue
		}
		r := hexRune(data[i+2 : i+6])
		switch {
		case r >= 0xd800 && r < 0xdc00:
			if i+12 <= len(data) && data[i+6] == '\\' && data[i+7] == 'u' {
				if lo := hexRune(data[i+8 : i+12]); lo >= 0xdc00 && lo < 0xe000 {
					i += 11
					continue
				}
			}
		case r >= 0xdc00 && r < 0xe000:
		default:
			i += 5
			continue
		}
		if !copied {
			out = append([]byte(nil), data...)
			copied = true
		}
		copy(out[i+2:i+6], "fffd")
		i += 5
	}
	return out
}

// hexRune parses four hex digits. Input is known to be valid JSON.
func hexRune(h []byte) rune {
	var r rune
	for _, c := range h {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			r |= rune(c - 'A' + 10)
		}
	}
	return r
}
