package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/store"
)

type fakeRegisterStore struct {
	user  store.User
	docs  []store.Document
	items map[string][]store.DocumentItem
}

func (f *fakeRegisterStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	return f.user, nil
}

func (f *fakeRegisterStore) ListDocuments(ctx context.Context, userID string) ([]store.Document, error) {
	return f.docs, nil
}

func (f *fakeRegisterStore) ListItems(ctx context.Context, documentID string, includeObsolete bool) ([]store.DocumentItem, error) {
	return f.items[documentID], nil
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testStore() *fakeRegisterStore {
	return &fakeRegisterStore{
		user: store.User{ID: "usr_1", DisplayName: "Maria Rossi"},
		docs: []store.Document{
			{ID: "doc_1", PointNumber: "4.2", Title: "Sicurezza Alimentare", Revision: "Rev.2"},
			{ID: "doc_2", PointNumber: "7.1", Title: "Taratura Strumenti", Revision: "Rev.1"},
		},
		items: map[string][]store.DocumentItem{
			"doc_1": {
				{Title: "Certificato HACCP", Revision: 2, ExpirationDate: datePtr(2026, 12, 31), NotificationValue: 30, NotificationUnit: "days"},
				{Title: "Attestato Formazione", Revision: 1, ExpirationDate: datePtr(2025, 6, 30), NotificationValue: 30, NotificationUnit: "days"},
			},
			"doc_2": {},
		},
	}
}

func TestBuildRegisterRecomputesStatuses(t *testing.T) {
	clock := lifecycle.FixedClock{Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}
	svc := NewService(testStore(), clock)

	reg, err := svc.BuildRegister(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("BuildRegister: %v", err)
	}

	if reg.OwnerName != "Maria Rossi" {
		t.Errorf("OwnerName = %q", reg.OwnerName)
	}
	if len(reg.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(reg.Documents))
	}

	doc := reg.Documents[0]
	if doc.Items[0].Status != "valid" {
		t.Errorf("far expiration status = %q, want valid", doc.Items[0].Status)
	}
	if doc.Items[1].Status != "expiring" {
		t.Errorf("near expiration status = %q, want expiring", doc.Items[1].Status)
	}
	// Aggregate takes the worst item state.
	if doc.Status != "expiring" {
		t.Errorf("document status = %q, want expiring", doc.Status)
	}

	if reg.Documents[1].Status != "valid" {
		t.Errorf("empty document status = %q, want valid", reg.Documents[1].Status)
	}
}

func TestRenderRegisterHTML(t *testing.T) {
	clock := lifecycle.FixedClock{Date: time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)}
	svc := NewService(testStore(), clock)

	reg, err := svc.BuildRegister(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("BuildRegister: %v", err)
	}

	html, err := RenderRegisterHTML(reg)
	if err != nil {
		t.Fatalf("RenderRegisterHTML: %v", err)
	}

	for _, want := range []string{
		"Maria Rossi",
		"4.2",
		"Sicurezza Alimentare",
		"Certificato HACCP",
		"Rev.2",
		"31/12/2026",
		"expired", // the June item lapsed by mid-July
		"15/07/2025",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered register missing %q", want)
		}
	}
}

func TestRenderRegisterHTMLEmpty(t *testing.T) {
	html, err := RenderRegisterHTML(Register{OwnerName: "Nobody", GeneratedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("RenderRegisterHTML: %v", err)
	}
	if !strings.Contains(html, "Nobody") {
		t.Error("rendered register missing owner")
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123_~.", "abc-123_~."},
		{"a b", "a%20b"},
		{"<p>", "%3Cp%3E"},
	}
	for _, tt := range tests {
		if got := percentEncodeForDataURL(tt.in); got != tt.want {
			t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"document-register Maria Rossi", "document-register-Maria-Rossi"},
		{"", "register"},
		{"///", "register"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
