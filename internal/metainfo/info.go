package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"encoding/hex"
	"strings"
)

// InfoHash returns the SHA-1 of the canonical bencoding of the info dictionary
// as 40 uppercase hexadecimal characters.
func (m *MetaInfo) InfoHash() (string, error) {
	info, ok := m.info()
	if !ok {
		return "", &DecodeError{Err: errNoInfo}
	}
	b, err := Encode(info)
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	sum := sha1.Sum(b) // nolint: gosec
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// RehashWithSource returns the infohash m would have if its source flag were flag.
// m is not modified. An empty flag is stored as an empty string, not removed.
func (m *MetaInfo) RehashWithSource(flag string) (string, error) {
	c := m.Clone()
	c.SetSource(flag)
	return c.InfoHash()
}

// NormalizeInfoHash returns h in the canonical uppercase form used as index keys.
func NormalizeInfoHash(h string) string {
	return strings.ToUpper(strings.TrimSpace(h))
}
