package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

func writeTorrent(t *testing.T, path, name string) string {
	t.Helper()
	b, err := bencode.EncodeBytes(map[string]interface{}{
		"announce": "https://a.host/pk/announce",
		"info":     map[string]interface{}{"name": name, "source": "A"},
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, b, 0o600))
	m, err := metainfo.New(b)
	require.NoError(t, err)
	h, err := m.InfoHash()
	require.NoError(t, err)
	return h
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	h1 := writeTorrent(t, filepath.Join(dir, "one.torrent"), "one")
	h2 := writeTorrent(t, filepath.Join(dir, "two.torrent"), "two")
	writeTorrent(t, filepath.Join(dir, "sub", "three.torrent"), "three")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.torrent"), []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noinfo.torrent"), []byte("d8:announce3:urle"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	idx, err := Build(dir)
	require.NoError(t, err)
	assert.Len(t, idx, 2)
	p, ok := idx.Lookup(h1)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "one.torrent"), p)
	p, ok = idx.Lookup(h2)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "two.torrent"), p)
}

func TestBuildRecursive(t *testing.T) {
	dir := t.TempDir()
	h := writeTorrent(t, filepath.Join(dir, "B", "foo [B].torrent"), "foo")
	idx, err := BuildRecursive(dir)
	require.NoError(t, err)
	p, ok := idx.Lookup(h)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "B", "foo [B].torrent"), p)
}

func TestBuildRecursiveMissingDir(t *testing.T) {
	idx, err := BuildRecursive(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestBuildMissingDir(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestCollisionLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	h := writeTorrent(t, filepath.Join(dir, "a.torrent"), "same")
	writeTorrent(t, filepath.Join(dir, "b.torrent"), "same")
	idx, err := Build(dir)
	require.NoError(t, err)
	p, _ := idx.Lookup(h)
	assert.Equal(t, filepath.Join(dir, "b.torrent"), p)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	idx := Index{}
	idx.Add("abcdef", "/x")
	p, ok := idx.Lookup("ABCDEF")
	assert.True(t, ok)
	assert.Equal(t, "/x", p)
}
