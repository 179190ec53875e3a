// Package storage keeps uploaded document files and moves superseded ones
// into the obsolete archive area.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem is the seam between the relocator and the real disk, narrowed to
// what relocation needs so tests can fake it.
type Filesystem interface {
	Exists(path string) (bool, error)
	Rename(src, dst string) error
	Copy(src, dst string) error
	Remove(path string) error
	MkdirAll(path string) error
}

// OSFilesystem is the real-disk Filesystem.
type OSFilesystem struct{}

func (OSFilesystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

func (OSFilesystem) Rename(src, dst string) error {
	return os.Rename(src, dst)
}

func (OSFilesystem) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy contents: %w", err)
	}
	return out.Close()
}

func (OSFilesystem) Remove(path string) error {
	return os.Remove(path)
}

func (OSFilesystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// WriteFile stores an uploaded stream under dir with the given name and
// returns the full path.
func WriteFile(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}
