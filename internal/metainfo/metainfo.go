// Package metainfo support for reading, rewriting and writing torrent files.
package metainfo

import (
	"os"
	"path/filepath"
	"strings"
)

// Keys of the top level dictionary that are touched when a torrent is rewritten.
const (
	keyInfo         = "info"
	keySource       = "source"
	keyName         = "name"
	keyAnnounce     = "announce"
	keyAnnounceList = "announce-list"
	keyTrackers     = "trackers"
	keyComment      = "comment"
)

// MetaInfo is a decoded torrent file (or fastresume sidecar).
// Unknown keys are preserved and written back in canonical order.
type MetaInfo struct {
	dict map[string]interface{}
}

// New returns a torrent from bencoded bytes. The top level value must be a dictionary containing an info dictionary.
func New(b []byte) (*MetaInfo, error) {
	m, err := newMetaInfo(b)
	if err != nil {
		return nil, err
	}
	if _, ok := m.info(); !ok {
		return nil, &DecodeError{Err: errNoInfo}
	}
	return m, nil
}

// NewResume returns the contents of a fastresume file. Unlike New, it does not require an info dictionary.
func NewResume(b []byte) (*MetaInfo, error) {
	return newMetaInfo(b)
}

func newMetaInfo(b []byte) (*MetaInfo, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(map[string]interface{})
	if !ok {
		return nil, &DecodeError{Err: errNoInfo}
	}
	return &MetaInfo{dict: dict}, nil
}

// Load reads and decodes the torrent file at path.
func Load(path string) (*MetaInfo, error) {
	return load(path, New)
}

// LoadResume reads and decodes the fastresume file at path.
func LoadResume(path string) (*MetaInfo, error) {
	return load(path, NewResume)
}

func load(path string, parse func([]byte) (*MetaInfo, error)) (*MetaInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parse(b)
	if de, ok := err.(*DecodeError); ok {
		de.File = path
	}
	return m, err
}

func (m *MetaInfo) info() (map[string]interface{}, bool) {
	info, ok := m.dict[keyInfo].(map[string]interface{})
	return info, ok
}

func (m *MetaInfo) getString(key string) string {
	s, _ := m.dict[key].(string)
	return s
}

// Name returns the name field of the info dictionary.
func (m *MetaInfo) Name() string {
	info, ok := m.info()
	if !ok {
		return ""
	}
	s, _ := info[keyName].(string)
	return s
}

// Source returns the source flag of the info dictionary. ok is false when the key is absent.
func (m *MetaInfo) Source() (source string, ok bool) {
	info, found := m.info()
	if !found {
		return "", false
	}
	source, ok = info[keySource].(string)
	return
}

// SetSource overwrites the source flag. It has no effect when there is no info dictionary.
func (m *MetaInfo) SetSource(flag string) {
	if info, ok := m.info(); ok {
		info[keySource] = flag
	}
}

// Announce returns the main tracker URL.
func (m *MetaInfo) Announce() string { return m.getString(keyAnnounce) }

// SetAnnounce replaces the tracker URL and removes any other tracker lists,
// so the torrent only announces to u.
func (m *MetaInfo) SetAnnounce(u string) {
	m.dict[keyAnnounce] = u
	delete(m.dict, keyAnnounceList)
	delete(m.dict, keyTrackers)
}

// Comment returns the comment field.
func (m *MetaInfo) Comment() string { return m.getString(keyComment) }

// SetComment sets the comment field.
func (m *MetaInfo) SetComment(c string) { m.dict[keyComment] = c }

// Clone returns a deep copy. Changes to the copy never affect m.
func (m *MetaInfo) Clone() *MetaInfo {
	return &MetaInfo{dict: clone(m.dict).(map[string]interface{})}
}

// Bytes returns the canonical bencoding of the whole torrent.
func (m *MetaInfo) Bytes() ([]byte, error) {
	return Encode(m.dict)
}

// WriteFile writes the canonical bencoding of m to path, creating parent directories.
// Data is written to a temporary file in the same directory and renamed into place
// so an interrupted write never leaves a partial torrent behind.
func (m *MetaInfo) WriteFile(path string) error {
	b, err := m.Bytes()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}
