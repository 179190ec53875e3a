package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJournalRecordAndHistory(t *testing.T) {
	dir := t.TempDir()
	journal, err := Open(dir)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("rev one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := journal.Record("report.pdf", "Archive report.pdf"); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report_1.pdf"), []byte("rev two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := journal.Record("report_1.pdf", "Archive report_1.pdf"); err != nil {
		t.Fatalf("second Record returned error: %v", err)
	}

	entries, err := journal.History("report.pdf", 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("History(report.pdf) = %d entries, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Message, "report.pdf") {
		t.Fatalf("unexpected commit message %q", entries[0].Message)
	}

	all, err := journal.History("", 0)
	if err != nil {
		t.Fatalf("History of all files returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("full history = %d entries, want 2", len(all))
	}
}

func TestJournalReopen(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err != nil {
		t.Fatalf("first Open returned error: %v", err)
	}
	if _, err := Open(dir); err != nil {
		t.Fatalf("reopening existing journal returned error: %v", err)
	}
}

func TestJournalEmptyHistory(t *testing.T) {
	journal, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	entries, err := journal.History("anything.pdf", 0)
	if err != nil {
		t.Fatalf("History on empty journal returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("empty journal history = %v", entries)
	}
}
