package storage

import (
	"errors"
	"fmt"
	"testing"
)

// fakeFilesystem tracks files in memory and can simulate a cross-device
// rename failure.
type fakeFilesystem struct {
	files      map[string]bool
	renameErr  error
	copyErr    error
	removeErr  error
	renamed    [][2]string
	copied     [][2]string
	removed    []string
	madeDirs   []string
}

func newFakeFilesystem(paths ...string) *fakeFilesystem {
	files := make(map[string]bool)
	for _, p := range paths {
		files[p] = true
	}
	return &fakeFilesystem{files: files}
}

func (f *fakeFilesystem) Exists(path string) (bool, error) { return f.files[path], nil }

func (f *fakeFilesystem) Rename(src, dst string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renamed = append(f.renamed, [2]string{src, dst})
	delete(f.files, src)
	f.files[dst] = true
	return nil
}

func (f *fakeFilesystem) Copy(src, dst string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copied = append(f.copied, [2]string{src, dst})
	f.files[dst] = true
	return nil
}

func (f *fakeFilesystem) Remove(path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	delete(f.files, path)
	return nil
}

func (f *fakeFilesystem) MkdirAll(path string) error {
	f.madeDirs = append(f.madeDirs, path)
	return nil
}

func TestRelocateMovesFile(t *testing.T) {
	fs := newFakeFilesystem("/data/uploads/report.pdf")
	r := NewRelocator(fs, "/data/obsolete")

	moved, err := r.Relocate("/data/uploads/report.pdf")
	if err != nil {
		t.Fatalf("Relocate returned error: %v", err)
	}
	if moved != "/data/obsolete/report.pdf" {
		t.Fatalf("moved to %q, want /data/obsolete/report.pdf", moved)
	}
	if fs.files["/data/uploads/report.pdf"] {
		t.Fatal("source still exists after relocation")
	}
}

func TestRelocateCollisionSuffix(t *testing.T) {
	fs := newFakeFilesystem("/data/uploads/report.pdf", "/data/obsolete/report.pdf")
	r := NewRelocator(fs, "/data/obsolete")

	moved, err := r.Relocate("/data/uploads/report.pdf")
	if err != nil {
		t.Fatalf("Relocate returned error: %v", err)
	}
	if moved != "/data/obsolete/report_1.pdf" {
		t.Fatalf("moved to %q, want /data/obsolete/report_1.pdf", moved)
	}
	if !fs.files["/data/obsolete/report.pdf"] {
		t.Fatal("existing archive file was overwritten")
	}
}

func TestRelocateCollisionSuffixIncrements(t *testing.T) {
	fs := newFakeFilesystem(
		"/data/uploads/report.pdf",
		"/data/obsolete/report.pdf",
		"/data/obsolete/report_1.pdf",
		"/data/obsolete/report_2.pdf",
	)
	r := NewRelocator(fs, "/data/obsolete")

	moved, err := r.Relocate("/data/uploads/report.pdf")
	if err != nil {
		t.Fatalf("Relocate returned error: %v", err)
	}
	if moved != "/data/obsolete/report_3.pdf" {
		t.Fatalf("moved to %q, want /data/obsolete/report_3.pdf", moved)
	}
}

func TestRelocateMissingSource(t *testing.T) {
	fs := newFakeFilesystem()
	r := NewRelocator(fs, "/data/obsolete")

	_, err := r.Relocate("/data/uploads/gone.pdf")
	var relErr *RelocationError
	if !errors.As(err, &relErr) {
		t.Fatalf("error = %v, want *RelocationError", err)
	}
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("error = %v, want ErrSourceMissing", err)
	}
}

func TestRelocateCopyFallback(t *testing.T) {
	fs := newFakeFilesystem("/data/uploads/report.pdf")
	fs.renameErr = fmt.Errorf("invalid cross-device link")
	r := NewRelocator(fs, "/data/obsolete")

	moved, err := r.Relocate("/data/uploads/report.pdf")
	if err != nil {
		t.Fatalf("Relocate returned error: %v", err)
	}
	if moved != "/data/obsolete/report.pdf" {
		t.Fatalf("moved to %q, want /data/obsolete/report.pdf", moved)
	}
	if len(fs.copied) != 1 {
		t.Fatalf("copy fallback not used, copied = %v", fs.copied)
	}
	if len(fs.removed) != 1 || fs.removed[0] != "/data/uploads/report.pdf" {
		t.Fatalf("source not removed after copy, removed = %v", fs.removed)
	}
}

func TestRelocateCopyFallbackFailure(t *testing.T) {
	fs := newFakeFilesystem("/data/uploads/report.pdf")
	fs.renameErr = fmt.Errorf("invalid cross-device link")
	fs.copyErr = fmt.Errorf("disk full")
	r := NewRelocator(fs, "/data/obsolete")

	_, err := r.Relocate("/data/uploads/report.pdf")
	var relErr *RelocationError
	if !errors.As(err, &relErr) {
		t.Fatalf("error = %v, want *RelocationError", err)
	}
	if !fs.files["/data/uploads/report.pdf"] {
		t.Fatal("source file should remain when both strategies fail")
	}
}
