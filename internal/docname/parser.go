// Package docname parses the structured filenames used for uploaded quality
// documents. The expected shape is four hyphen-separated segments:
//
//	PointNumber-Title-Rev.N-YYYYMMDD.ext
//
// e.g. "4.2-Sicurezza Alimentare-Rev.1-20250325.pdf". Titles containing a
// literal hyphen are unsupported: the name is split on every hyphen and must
// yield exactly four segments. That limitation is deliberate and documented,
// not worked around.
package docname

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Reason identifies which rule a filename violated.
type Reason string

const (
	ReasonSegmentCount Reason = "segment-count"
	ReasonBadRevision  Reason = "bad-revision"
	ReasonBadDate      Reason = "bad-date"
)

// ParseError reports why a filename could not be parsed. Callers reject the
// single file and keep going; a parse failure never aborts a batch upload.
type ParseError struct {
	Filename string
	Reason   Reason
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse filename %q: %s", e.Filename, e.Reason)
}

// Metadata is the structured form of a document filename. All four fields are
// present and well-formed or Parse fails as a whole.
type Metadata struct {
	PointNumber string
	Title       string
	Revision    int
	IssueDate   time.Time
}

var (
	revisionPattern = regexp.MustCompile(`^Rev\.(\d+)$`)
	datePattern     = regexp.MustCompile(`^\d{8}$`)
)

// Parse extracts metadata from an uploaded filename.
func Parse(filename string) (Metadata, error) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	segments := strings.Split(base, "-")
	if len(segments) != 4 {
		return Metadata{}, &ParseError{Filename: filename, Reason: ReasonSegmentCount}
	}

	match := revisionPattern.FindStringSubmatch(strings.TrimSpace(segments[2]))
	if match == nil {
		return Metadata{}, &ParseError{Filename: filename, Reason: ReasonBadRevision}
	}
	revision, err := strconv.Atoi(match[1])
	if err != nil || revision < 1 {
		return Metadata{}, &ParseError{Filename: filename, Reason: ReasonBadRevision}
	}

	issued, err := parseDate(strings.TrimSpace(segments[3]))
	if err != nil {
		return Metadata{}, &ParseError{Filename: filename, Reason: ReasonBadDate}
	}

	return Metadata{
		PointNumber: strings.TrimSpace(segments[0]),
		Title:       strings.TrimSpace(segments[1]),
		Revision:    revision,
		IssueDate:   issued,
	}, nil
}

// parseDate reads an 8-digit date, primarily as YYYYMMDD. Names produced by
// older office tooling use DDMMYYYY, so that ordering is retried when the
// primary read is not a real calendar date.
func parseDate(raw string) (time.Time, error) {
	if !datePattern.MatchString(raw) {
		return time.Time{}, fmt.Errorf("date segment %q is not 8 digits", raw)
	}
	if parsed, err := time.ParseInLocation("20060102", raw, time.UTC); err == nil {
		return parsed, nil
	}
	flipped := raw[4:] + raw[2:4] + raw[:2]
	if parsed, err := time.ParseInLocation("20060102", flipped, time.UTC); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("date segment %q is not a calendar date", raw)
}

// Format renders metadata back into the canonical filename form. For any name
// Parse accepts whose title holds no hyphen, Format(Parse(name)) == name.
func Format(m Metadata, extension string) string {
	name := fmt.Sprintf("%s-%s-%s-%s",
		m.PointNumber,
		m.Title,
		RevisionLabel(m.Revision),
		m.IssueDate.Format("20060102"),
	)
	ext := strings.TrimPrefix(extension, ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// RevisionLabel renders the display form of a revision number, e.g. "Rev.3".
func RevisionLabel(revision int) string {
	return fmt.Sprintf("Rev.%d", revision)
}
