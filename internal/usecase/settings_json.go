package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeySeparator splits nested settings keys ("Jobs:Loader:Query").
const KeySeparator = ":"

var (
	errKeyNotFound = errors.New("key not found")
	errNotString   = errors.New("value is not a string")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stringSpan is the byte range of a JSON string literal, quotes included.
type stringSpan struct {
	start, end int
	value      string
}

// locateString finds the string value at key inside a JSON object document.
// Member names match exactly; the first duplicate wins.
func locateString(data []byte, key string) (stringSpan, error) {
	base := 0
	if bytes.HasPrefix(data, utf8BOM) {
		base = len(utf8BOM)
	}
	dec := json.NewDecoder(bytes.NewReader(data[base:]))

	tok, err := dec.Token()
	if err != nil {
		return stringSpan{}, fmt.Errorf("invalid settings document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return stringSpan{}, errors.New("invalid settings document: top level is not an object")
	}

	span, err := findInObject(dec, data[base:], strings.Split(key, KeySeparator))
	if err != nil {
		return stringSpan{}, err
	}
	span.start += base
	span.end += base
	return span, nil
}

// findInObject expects the decoder just past an opening '{'.
func findInObject(dec *json.Decoder, data []byte, path []string) (stringSpan, error) {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return stringSpan{}, fmt.Errorf("invalid settings document: %w", err)
		}
		name, _ := tok.(string)
		if name != path[0] {
			if err := skipValue(dec); err != nil {
				return stringSpan{}, err
			}
			continue
		}

		afterName := int(dec.InputOffset())
		tok, err = dec.Token()
		if err != nil {
			return stringSpan{}, fmt.Errorf("invalid settings document: %w", err)
		}

		if len(path) > 1 {
			if d, ok := tok.(json.Delim); ok && d == '{' {
				return findInObject(dec, data, path[1:])
			}
			return stringSpan{}, errKeyNotFound
		}

		value, ok := tok.(string)
		if !ok {
			return stringSpan{}, errNotString
		}
		end := int(dec.InputOffset())
		quote := bytes.IndexByte(data[afterName:end], '"')
		if quote < 0 {
			return stringSpan{}, errNotString
		}
		return stringSpan{start: afterName + quote, end: end, value: value}, nil
	}
	return stringSpan{}, errKeyNotFound
}

// skipValue consumes one complete value, nested containers included.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid settings document: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

// encodeJSONString renders s as a JSON string literal without HTML escaping,
// so SQL operators like < and > stay readable in the settings file.
func encodeJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// spliceString replaces the literal at span with newValue, leaving every other byte intact.
func spliceString(data []byte, span stringSpan, newValue string) ([]byte, error) {
	lit, err := encodeJSONString(newValue)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)-(span.end-span.start)+len(lit))
	out = append(out, data[:span.start]...)
	out = append(out, lit...)
	out = append(out, data[span.end:]...)
	return out, nil
}
