// Package revision enforces the supersession rules for document items:
// within a (document, title) group at most one non-obsolete item exists and
// revisions only move forward. Superseding flips the prior item's obsolete
// flag, then archives its file best-effort.
package revision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qualidoc/api/internal/lifecycle"
)

var (
	// ErrDuplicateRevision rejects a revision equal to the current one.
	ErrDuplicateRevision = errors.New("duplicate revision")
	// ErrRevisionRegression rejects a revision lower than the current one.
	ErrRevisionRegression = errors.New("revision regression")
)

// ItemSummary is the slice of a stored item the manager needs to decide a
// supersession.
type ItemSummary struct {
	ID       string
	Revision int
	FileURL  string
}

// NewItem holds the fields of the incoming revision.
type NewItem struct {
	DocumentID        string
	Title             string
	Revision          int
	ExpirationDate    *time.Time
	NotificationValue int
	NotificationUnit  lifecycle.Unit
	FileURL           string
}

// Store is the persistence surface for supersession. Boolean returns report
// whether a row was affected, so a no-op is distinguishable from success.
type Store interface {
	GetLatestNonObsoleteItem(ctx context.Context, documentID, title string) (*ItemSummary, error)
	InsertItem(ctx context.Context, item NewItem) (string, error)
	MarkItemObsolete(ctx context.Context, itemID string) (bool, error)
	UpdateItemFileURL(ctx context.Context, itemID, fileURL string) (bool, error)
}

// Archiver moves a stored file into the obsolete area.
type Archiver interface {
	Archive(ctx context.Context, path string) (string, error)
}

// Outcome reports both halves of a supersession. The obsolete-flag write and
// the file relocation live in different storage systems with no shared
// transaction, so the relocation is best-effort: its failure is carried here
// instead of rolling back the flag.
type Outcome struct {
	// NewItemID is the inserted item.
	NewItemID string
	// SupersededID is the item marked obsolete, empty for a first revision.
	SupersededID string
	// Flagged reports whether the obsolete-flag write affected a row.
	Flagged bool
	// RelocatedTo is the archived file's new location, when a file existed
	// and the move succeeded.
	RelocatedTo string
	// RelocationErr is the file-move failure, when one occurred. The
	// metadata update above it still stands.
	RelocationErr error
}

// Superseded reports whether a prior item was replaced.
func (o Outcome) Superseded() bool { return o.SupersededID != "" }

// Manager serializes supersession per (documentID, title) key. Two
// concurrent calls for the same key would otherwise both read the same
// "latest revision" and both try to supersede it; the mutex map (plus the
// store's partial unique index) closes that race.
type Manager struct {
	store Store
	files Archiver

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewManager(store Store, files Archiver) *Manager {
	return &Manager{
		store: store,
		files: files,
		locks: make(map[string]*sync.Mutex),
	}
}

// Supersede validates revision ordering for the item's (document, title)
// group, retires the current item when one exists, and inserts the new item
// as the sole non-obsolete record.
func (m *Manager) Supersede(ctx context.Context, item NewItem) (Outcome, error) {
	if item.Revision < 1 {
		return Outcome{}, fmt.Errorf("revision %d: %w", item.Revision, ErrRevisionRegression)
	}

	lock := m.keyLock(item.DocumentID, item.Title)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.store.GetLatestNonObsoleteItem(ctx, item.DocumentID, item.Title)
	if err != nil {
		return Outcome{}, fmt.Errorf("read current revision: %w", err)
	}

	var out Outcome
	if current != nil {
		switch {
		case item.Revision == current.Revision:
			return Outcome{}, fmt.Errorf("title %q already at revision %d: %w", item.Title, current.Revision, ErrDuplicateRevision)
		case item.Revision < current.Revision:
			return Outcome{}, fmt.Errorf("title %q is at revision %d, got %d: %w", item.Title, current.Revision, item.Revision, ErrRevisionRegression)
		}

		out.SupersededID = current.ID
		flagged, err := m.store.MarkItemObsolete(ctx, current.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("mark item obsolete: %w", err)
		}
		out.Flagged = flagged

		if current.FileURL != "" {
			out.RelocatedTo, out.RelocationErr = m.archive(ctx, current.ID, current.FileURL)
		}
	}

	id, err := m.store.InsertItem(ctx, item)
	if err != nil {
		return out, fmt.Errorf("insert item revision %d: %w", item.Revision, err)
	}
	out.NewItemID = id
	return out, nil
}

// archive moves the retired item's file and repoints its stored URL at the
// new location. Both steps are best-effort relative to the flag write.
func (m *Manager) archive(ctx context.Context, itemID, fileURL string) (string, error) {
	moved, err := m.files.Archive(ctx, fileURL)
	if err != nil {
		return "", err
	}
	if _, err := m.store.UpdateItemFileURL(ctx, itemID, moved); err != nil {
		return moved, fmt.Errorf("file archived to %s but url not updated: %w", moved, err)
	}
	return moved, nil
}

func (m *Manager) keyLock(documentID, title string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	key := documentID + "\x00" + title
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
