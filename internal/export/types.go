// Package export renders the document register as a PDF report.
package export

import (
	"errors"
	"time"
)

// Register is a snapshot of every active document a user owns, with statuses
// recomputed at generation time.
type Register struct {
	OwnerName   string
	GeneratedAt time.Time
	Documents   []RegisterDocument
}

// RegisterDocument is one register row group: a document plus its active items.
type RegisterDocument struct {
	PointNumber string
	Title       string
	Revision    string
	Status      string
	Items       []RegisterItem
}

// RegisterItem is a single certificate line inside a document.
type RegisterItem struct {
	Title          string
	Revision       int
	ExpirationDate *time.Time
	Status         string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless browser is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
