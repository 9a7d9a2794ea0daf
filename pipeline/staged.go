package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// stagedFile collects output in a hidden sibling of path. Commit moves it into
// place; Discard removes it and leaves any existing file at path untouched.
type stagedFile struct {
	path string
	tmp  *os.File
	done bool
}

func createStaged(filename string) (*stagedFile, error) {
	if info, err := os.Stat(filename); err == nil && info.IsDir() {
		return nil, &IOError{Op: "create", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	dir, base := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, &IOError{Op: "create", Path: filename, Err: err}
	}
	return &stagedFile{path: filename, tmp: tmp}, nil
}

func (f *stagedFile) Write(p []byte) (int, error) {
	return f.tmp.Write(p)
}

func (f *stagedFile) Commit() error {
	if f.done {
		return nil
	}
	f.done = true

	name := f.tmp.Name()
	if err := f.tmp.Close(); err != nil {
		os.Remove(name)
		return &IOError{Op: "close", Path: f.path, Err: err}
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return &IOError{Op: "chmod", Path: f.path, Err: err}
	}
	if err := os.Rename(name, f.path); err != nil {
		os.Remove(name)
		return &IOError{Op: "rename", Path: f.path, Err: err}
	}
	return nil
}

func (f *stagedFile) Discard() error {
	if f.done {
		return nil
	}
	f.done = true

	name := f.tmp.Name()
	f.tmp.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "remove", Path: name, Err: err}
	}
	return nil
}
