package metainfo

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/bencode"
)

var (
	errNoInfo       = errors.New("no info dict in torrent file")
	errTrailingData = errors.New("trailing data after bencoded value")
)

// DecodeError is returned when the input is not valid bencode or does not contain an info dictionary.
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.File == "" {
		return "decode error: " + e.Err.Error()
	}
	return fmt.Sprintf("cannot decode %q: %s", e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses exactly one bencoded value from b.
// Dictionaries are returned as map[string]interface{}, lists as []interface{},
// integers as int64 and byte strings as string.
// Dictionary keys are accepted in any order; Encode always sorts them.
// Non-minimal integers, zero-padded string lengths and duplicate keys are rejected
// because re-encoding them would change the infohash.
func Decode(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Err: io.ErrUnexpectedEOF}
	}
	switch c := b[0]; {
	case c == 'd', c == 'l', c == 'i', c >= '0' && c <= '9':
	default:
		return nil, &DecodeError{Err: fmt.Errorf("invalid leading byte %q", c)}
	}
	if _, err := checkCanonical(b, 0); err != nil {
		return nil, &DecodeError{Err: err}
	}
	d := bencode.NewDecoder(bytes.NewReader(b))
	var v interface{}
	if err := d.Decode(&v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if d.BytesParsed() != len(b) {
		return nil, &DecodeError{Err: errTrailingData}
	}
	return v, nil
}

// Encode returns the canonical bencoding of v. Dictionary keys are emitted in lexicographic byte order.
func Encode(v interface{}) ([]byte, error) {
	return bencode.EncodeBytes(v)
}

// clone returns a deep copy of a decoded value.
// Strings and integers are immutable so they are shared.
func clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = clone(val)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, val := range t {
			l[i] = clone(val)
		}
		return l
	default:
		return v
	}
}
