package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSourceMissing marks a relocation whose source file no longer exists.
var ErrSourceMissing = errors.New("source file does not exist")

// RelocationError reports a failed move into the obsolete area. Callers treat
// it as non-fatal to the surrounding metadata update: the flag write stands,
// the stale file stays in place, and the failure is logged for follow-up.
type RelocationError struct {
	Source string
	Err    error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("relocate %s: %v", e.Source, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

// Relocator moves files into a fixed obsolete directory, never overwriting:
// when the base name is taken, an incrementing numeric suffix is appended
// before the extension until a free name is found.
type Relocator struct {
	fs          Filesystem
	obsoleteDir string
}

func NewRelocator(fs Filesystem, obsoleteDir string) *Relocator {
	return &Relocator{fs: fs, obsoleteDir: obsoleteDir}
}

// ObsoleteDir returns the archive directory the relocator writes into.
func (r *Relocator) ObsoleteDir() string { return r.obsoleteDir }

// Relocate moves source into the obsolete directory and returns its new
// path. Rename is attempted first; cross-device moves fall back to
// copy-then-delete.
func (r *Relocator) Relocate(source string) (string, error) {
	exists, err := r.fs.Exists(source)
	if err != nil {
		return "", &RelocationError{Source: source, Err: err}
	}
	if !exists {
		return "", &RelocationError{Source: source, Err: ErrSourceMissing}
	}
	if err := r.fs.MkdirAll(r.obsoleteDir); err != nil {
		return "", &RelocationError{Source: source, Err: fmt.Errorf("create obsolete dir: %w", err)}
	}

	destination, err := r.freeName(filepath.Base(source))
	if err != nil {
		return "", &RelocationError{Source: source, Err: err}
	}

	if err := r.fs.Rename(source, destination); err != nil {
		if copyErr := r.fs.Copy(source, destination); copyErr != nil {
			return "", &RelocationError{Source: source, Err: fmt.Errorf("rename failed (%v), copy failed: %w", err, copyErr)}
		}
		if removeErr := r.fs.Remove(source); removeErr != nil {
			return "", &RelocationError{Source: source, Err: fmt.Errorf("copied but source not removed: %w", removeErr)}
		}
	}
	return destination, nil
}

// freeName finds the first unused destination name: base, then base_1,
// base_2, ... with the suffix inserted before the extension.
func (r *Relocator) freeName(base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := filepath.Join(r.obsoleteDir, base)
	for suffix := 1; ; suffix++ {
		taken, err := r.fs.Exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = filepath.Join(r.obsoleteDir, fmt.Sprintf("%s_%d%s", stem, suffix, ext))
	}
}
