package keystore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FS is the filesystem the keystore persists records through.
//
// WriteAll must never replace an existing file: it fails with an error
// satisfying errors.Is(err, fs.ErrExist) instead. ReadAll reports a missing
// file with fs.ErrNotExist.
type FS interface {
	Exists(path string) bool
	ReadAll(path string) ([]byte, error)
	WriteAll(path string, data []byte) error
}

// Lister is implemented by filesystems that can enumerate a directory.
// It backs Store.History.
type Lister interface {
	List(dir string) ([]string, error)
}

// OSFS is the local filesystem. Record files are created with mode 0600 and
// synced before WriteAll returns.
type OSFS struct{}

var _ Lister = OSFS{}

func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFS) ReadAll(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFS) WriteAll(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// List returns the regular file names in dir, sorted. A missing directory is empty.
func (OSFS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
