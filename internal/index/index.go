// Package index maps infohashes to the torrent files found in a directory.
package index

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

// Extension of torrent files.
const Extension = ".torrent"

var log = logger.New("index")

// Index maps an uppercase infohash to the absolute path of a torrent file.
// It is built once per scan and only read afterwards.
type Index map[string]string

// Lookup returns the path of the torrent with the infohash.
func (i Index) Lookup(infoHash string) (string, bool) {
	p, ok := i[metainfo.NormalizeInfoHash(infoHash)]
	return p, ok
}

// Add inserts or replaces an entry.
func (i Index) Add(infoHash, path string) {
	i[metainfo.NormalizeInfoHash(infoHash)] = path
}

// Build indexes the torrent files directly inside dir.
// Files that cannot be decoded or have no info dictionary are skipped.
func Build(dir string) (Index, error) {
	files, err := ListTorrents(dir)
	if err != nil {
		return nil, err
	}
	return build(files), nil
}

// BuildRecursive indexes torrent files in dir and all of its subdirectories.
// A missing dir results in an empty index.
func BuildRecursive(dir string) (Index, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isTorrent(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return Index{}, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return build(files), nil
}

// ListTorrents returns the sorted paths of torrent files directly inside dir.
func ListTorrents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isTorrent(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isTorrent(name string) bool {
	return strings.HasSuffix(name, Extension)
}

// build inserts files in order so that later files win on collision.
func build(files []string) Index {
	idx := make(Index, len(files))
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		m, err := metainfo.Load(abs)
		if err != nil {
			log.Debugf("skipping %s: %s", abs, err)
			continue
		}
		h, err := m.InfoHash()
		if err != nil {
			log.Debugf("skipping %s: %s", abs, err)
			continue
		}
		idx.Add(h, abs)
	}
	return idx
}
