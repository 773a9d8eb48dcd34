package metainfo

import (
	"errors"
	"fmt"
	"io"
)

// checkCanonical walks the first bencoded value in b and rejects encodings that a decoder would
// silently normalize: integers with leading zeros or "-0", zero-padded string lengths and
// repeated dictionary keys. Key order is not checked. It returns the offset after the value.
func checkCanonical(b []byte, pos int) (int, error) {
	if pos >= len(b) {
		return 0, io.ErrUnexpectedEOF
	}
	switch c := b[pos]; {
	case c == 'i':
		end, err := checkDigits(b, pos+1, 'e', true)
		if err != nil {
			return 0, fmt.Errorf("integer at offset %d: %w", pos, err)
		}
		return end + 1, nil
	case c >= '0' && c <= '9':
		_, end, err := checkString(b, pos)
		return end, err
	case c == 'l':
		pos++
		for {
			if pos >= len(b) {
				return 0, io.ErrUnexpectedEOF
			}
			if b[pos] == 'e' {
				return pos + 1, nil
			}
			next, err := checkCanonical(b, pos)
			if err != nil {
				return 0, err
			}
			pos = next
		}
	case c == 'd':
		start := pos
		pos++
		keys := make(map[string]struct{})
		for {
			if pos >= len(b) {
				return 0, io.ErrUnexpectedEOF
			}
			if b[pos] == 'e' {
				return pos + 1, nil
			}
			if b[pos] < '0' || b[pos] > '9' {
				return 0, fmt.Errorf("dictionary at offset %d: key at offset %d is not a string", start, pos)
			}
			key, next, err := checkString(b, pos)
			if err != nil {
				return 0, err
			}
			if _, ok := keys[key]; ok {
				return 0, fmt.Errorf("dictionary at offset %d: duplicate key %q", start, key)
			}
			keys[key] = struct{}{}
			if next, err = checkCanonical(b, next); err != nil {
				return 0, err
			}
			pos = next
		}
	default:
		return 0, fmt.Errorf("invalid byte %q at offset %d", c, pos)
	}
}

// checkString validates a "<len>:<bytes>" string at pos and returns its contents and end offset.
func checkString(b []byte, pos int) (string, int, error) {
	colon, err := checkDigits(b, pos, ':', false)
	if err != nil {
		return "", 0, fmt.Errorf("string length at offset %d: %w", pos, err)
	}
	n := 0
	for _, c := range b[pos:colon] {
		n = n*10 + int(c-'0')
		if n > len(b) {
			return "", 0, io.ErrUnexpectedEOF
		}
	}
	end := colon + 1 + n
	if end > len(b) {
		return "", 0, io.ErrUnexpectedEOF
	}
	return string(b[colon+1 : end]), end, nil
}

// checkDigits validates a minimal decimal number starting at pos and ending at term.
// It returns the offset of term.
func checkDigits(b []byte, pos int, term byte, signed bool) (int, error) {
	start := pos
	if signed && pos < len(b) && b[pos] == '-' {
		pos++
	}
	digits := pos
	for pos < len(b) && b[pos] >= '0' && b[pos] <= '9' {
		pos++
	}
	if pos >= len(b) {
		return 0, io.ErrUnexpectedEOF
	}
	if b[pos] != term {
		return 0, fmt.Errorf("unexpected byte %q", b[pos])
	}
	switch n := pos - digits; {
	case n == 0:
		return 0, errors.New("no digits")
	case b[digits] == '0' && n > 1:
		return 0, errors.New("leading zero")
	case b[digits] == '0' && digits > start:
		return 0, errors.New("negative zero")
	}
	return pos, nil
}
