package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeJournal struct {
	records []string
}

func (j *fakeJournal) Record(relPath, message string) error {
	j.records = append(j.records, relPath)
	return nil
}

func TestLocalStoreSaveOpenArchive(t *testing.T) {
	base := t.TempDir()
	uploadDir := filepath.Join(base, "uploads")
	obsoleteDir := filepath.Join(base, "obsolete")
	journal := &fakeJournal{}
	store := NewLocalStore(uploadDir, NewRelocator(OSFilesystem{}, obsoleteDir), journal)
	ctx := context.Background()

	path, err := store.Save(ctx, "4.2-Haccp-Rev.1-20250325.pdf", strings.NewReader("first revision"), 14)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	f, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	contents, _ := io.ReadAll(f)
	f.Close()
	if string(contents) != "first revision" {
		t.Fatalf("stored contents = %q", contents)
	}

	moved, err := store.Archive(ctx, path)
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	if filepath.Dir(moved) != obsoleteDir {
		t.Fatalf("archived outside obsolete dir: %s", moved)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("source file still present after archive")
	}
	if len(journal.records) != 1 {
		t.Fatalf("journal records = %v, want one entry", journal.records)
	}
}

func TestLocalStoreArchiveCollision(t *testing.T) {
	base := t.TempDir()
	uploadDir := filepath.Join(base, "uploads")
	obsoleteDir := filepath.Join(base, "obsolete")
	store := NewLocalStore(uploadDir, NewRelocator(OSFilesystem{}, obsoleteDir), nil)
	ctx := context.Background()

	first, err := store.Save(ctx, "report.pdf", strings.NewReader("one"), 3)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := store.Archive(ctx, first); err != nil {
		t.Fatalf("first Archive returned error: %v", err)
	}

	second, err := store.Save(ctx, "report.pdf", strings.NewReader("two"), 3)
	if err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}
	moved, err := store.Archive(ctx, second)
	if err != nil {
		t.Fatalf("second Archive returned error: %v", err)
	}
	if filepath.Base(moved) != "report_1.pdf" {
		t.Fatalf("collision moved to %q, want report_1.pdf", filepath.Base(moved))
	}

	one, _ := os.ReadFile(filepath.Join(obsoleteDir, "report.pdf"))
	if string(one) != "one" {
		t.Fatalf("first archived file overwritten, contents = %q", one)
	}
}

func TestLocalStoreRemoveMissingIsNoop(t *testing.T) {
	store := NewLocalStore(t.TempDir(), NewRelocator(OSFilesystem{}, t.TempDir()), nil)
	if err := store.Remove(context.Background(), "/nope/missing.pdf"); err != nil {
		t.Fatalf("Remove of missing file returned error: %v", err)
	}
}
