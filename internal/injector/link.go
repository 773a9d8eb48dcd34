package injector

import (
	"io/fs"
	"os"
	"path/filepath"
)

// LinkContent hard links the file or directory tree at src into dir, keeping its base name.
// Files that already exist at the destination are left alone.
func LinkContent(src, dir string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if !fi.IsDir() {
		if err = os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		return link(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return link(path, target)
	})
}

func link(src, dst string) error {
	err := os.Link(src, dst)
	if os.IsExist(err) {
		return nil
	}
	return err
}
