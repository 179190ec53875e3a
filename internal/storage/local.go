package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// FileStore is the storage surface the application uses for document files.
// Both the local-disk store and the MinIO store implement it.
type FileStore interface {
	// Save stores an uploaded stream and returns the path callers persist.
	Save(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	// Open streams a stored file back.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Remove deletes a stored file.
	Remove(ctx context.Context, path string) error
	// Archive moves a stored file into the obsolete area and returns its
	// new location. Collisions are disambiguated, never overwritten.
	Archive(ctx context.Context, path string) (string, error)
}

// ArchiveJournal records archived files so every superseded version stays
// retrievable. Implemented by archive.Journal.
type ArchiveJournal interface {
	Record(relPath, message string) error
}

// LocalStore keeps files on the local disk: uploads under uploadDir, archived
// files under the relocator's obsolete directory. When a journal is attached,
// every archived file is committed to it.
type LocalStore struct {
	uploadDir string
	relocator *Relocator
	journal   ArchiveJournal
}

func NewLocalStore(uploadDir string, relocator *Relocator, journal ArchiveJournal) *LocalStore {
	return &LocalStore{uploadDir: uploadDir, relocator: relocator, journal: journal}
}

func (s *LocalStore) Save(_ context.Context, name string, r io.Reader, _ int64) (string, error) {
	return WriteFile(s.uploadDir, name, r)
}

func (s *LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stored file: %w", err)
	}
	return nil
}

func (s *LocalStore) Archive(_ context.Context, path string) (string, error) {
	moved, err := s.relocator.Relocate(path)
	if err != nil {
		return "", err
	}
	if s.journal != nil {
		rel, relErr := filepath.Rel(s.relocator.ObsoleteDir(), moved)
		if relErr != nil {
			rel = filepath.Base(moved)
		}
		if err := s.journal.Record(rel, fmt.Sprintf("Archive %s", rel)); err != nil {
			// The file is already in the obsolete area; a journal miss
			// loses history granularity, not the file itself.
			log.Printf("archive journal record failed for %s: %v", rel, err)
		}
	}
	return moved, nil
}
