package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Document is an uploaded quality document, partitioned per owning user.
// Revision carries the display form ("Rev.N"). Status is a write-through
// cache for listing screens; read paths recompute it from the document's
// items before returning it.
type Document struct {
	ID           string
	UserID       string
	PointNumber  string
	Title        string
	Revision     string
	EmissionDate time.Time
	FilePath     string
	Status       string
	IsObsolete   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentItem is one trackable obligation under a document. Within a
// (DocumentID, Title) group at most one non-obsolete row exists; a partial
// unique index enforces that under concurrency.
type DocumentItem struct {
	ID                 string
	DocumentID         string
	Title              string
	Revision           int
	ExpirationDate     *time.Time
	NotificationValue  int
	NotificationUnit   string
	Status             string
	FileURL            *string
	IsObsolete         bool
	LastNotifiedStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NotificationCandidate joins an active item with its owner for the expiry
// sweep.
type NotificationCandidate struct {
	ItemID             string
	ItemTitle          string
	DocumentTitle      string
	ExpirationDate     *time.Time
	NotificationValue  int
	NotificationUnit   string
	LastNotifiedStatus string
	OwnerEmail         string
	OwnerName          string
}
