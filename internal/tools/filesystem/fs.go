// Package filesystem provides the file access tools. All paths are
// validated against the working directory root before any I/O.
package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem abstracts the os package so tests can substitute a fake.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
	ReadDir(name string) ([]os.DirEntry, error)
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// OSFileSystem is the default FileSystem backed by the os package.
type OSFileSystem struct{}

func NewOSFileSystem() *OSFileSystem { return &OSFileSystem{} }

func (*OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (*OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (*OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (*OSFileSystem) Remove(name string) error { return os.Remove(name) }

func (*OSFileSystem) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

func (*OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// resolvePath joins path onto root and rejects escapes outside it.
func resolvePath(root, path string) (string, error) {
	full := filepath.Clean(filepath.Join(root, path))
	if !pathWithin(full, root) {
		return "", &EscapeError{Path: path}
	}
	return full, nil
}

func pathWithin(full, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// EscapeError reports a path that resolves outside the working directory.
type EscapeError struct {
	Path string
}

func (e *EscapeError) Error() string {
	return "path " + e.Path + " is outside the working directory"
}
