package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"qualidoc/api/internal/config"
	"qualidoc/api/internal/export"
	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/revision"
	"qualidoc/api/internal/store"
	"qualidoc/api/internal/util"
)

// fakeStore is an in-memory dataStore
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]store.User
	docs       map[string]store.Document
	items      map[string]store.DocumentItem
	revokedJTI map[string]bool
	pingFn     func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]store.User),
		docs:       make(map[string]store.Document),
		items:      make(map[string]store.DocumentItem),
		revokedJTI: make(map[string]bool),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTI[jti], nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, userID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []store.Document
	for _, doc := range f.docs {
		if doc.UserID == userID && !doc.IsObsolete {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) UpdateDocument(ctx context.Context, doc store.Document) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; !ok {
		return false, nil
	}
	f.docs[doc.ID] = doc
	return true, nil
}

func (f *fakeStore) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Status = status
	f.docs[documentID] = doc
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[documentID]; !ok {
		return false, nil
	}
	delete(f.docs, documentID)
	for id, item := range f.items {
		if item.DocumentID == documentID {
			delete(f.items, id)
		}
	}
	return true, nil
}

func (f *fakeStore) ListItems(ctx context.Context, documentID string, includeObsolete bool) ([]store.DocumentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.DocumentItem
	for _, item := range f.items {
		if item.DocumentID != documentID {
			continue
		}
		if item.IsObsolete && !includeObsolete {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID string) (store.DocumentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.DocumentItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) UpdateItem(ctx context.Context, item store.DocumentItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; !ok {
		return false, nil
	}
	f.items[item.ID] = item
	return true, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[itemID]; !ok {
		return false, nil
	}
	delete(f.items, itemID)
	return true, nil
}

// fakeSessions is an in-memory RefreshSessionStore
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string // tokenHash -> userID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, fmt.Errorf("token not found")
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeFiles is an in-memory FileStore
type fakeFiles struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	archived []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{blobs: make(map[string][]byte)}
}

func (f *fakeFiles) Save(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := "uploads/" + name
	f.blobs[p] = data
	return p, nil
}

func (f *fakeFiles) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[p]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFiles) Remove(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, p)
	return nil
}

func (f *fakeFiles) Archive(ctx context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[p]
	if !ok {
		return "", fmt.Errorf("no such file: %s", p)
	}
	dest := "obsolete/" + path.Base(p)
	f.blobs[dest] = data
	delete(f.blobs, p)
	f.archived = append(f.archived, p)
	return dest, nil
}

// fakeRevisions records Supersede calls
type fakeRevisions struct {
	mu      sync.Mutex
	calls   []revision.NewItem
	outcome revision.Outcome
	err     error
	store   *fakeStore // when set, inserts items so reads observe them
}

func (f *fakeRevisions) Supersede(ctx context.Context, item revision.NewItem) (revision.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item)
	if f.err != nil {
		return revision.Outcome{}, f.err
	}
	outcome := f.outcome
	if outcome.NewItemID == "" {
		outcome.NewItemID = util.NewID("item")
	}
	if f.store != nil {
		f.store.mu.Lock()
		f.store.items[outcome.NewItemID] = store.DocumentItem{
			ID:                outcome.NewItemID,
			DocumentID:        item.DocumentID,
			Title:             item.Title,
			Revision:          item.Revision,
			ExpirationDate:    item.ExpirationDate,
			NotificationValue: item.NotificationValue,
			NotificationUnit:  string(item.NotificationUnit),
		}
		f.store.mu.Unlock()
	}
	return outcome, nil
}

type fakeExporter struct {
	result *export.Result
	err    error
}

func (f *fakeExporter) ExportRegister(ctx context.Context, userID string) (*export.Result, error) {
	return f.result, f.err
}

type testEnv struct {
	store     *fakeStore
	sessions  *fakeSessions
	files     *fakeFiles
	revisions *fakeRevisions
	service   *Service
	server    *HTTPServer
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	sessions := newFakeSessions()
	files := newFakeFiles()
	revisions := &fakeRevisions{store: fs}

	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		store:     fs,
		sessions:  sessions,
		files:     files,
		revisions: revisions,
		exporter:  &fakeExporter{result: &export.Result{Data: []byte("%PDF"), Filename: "register.pdf", MimeType: "application/pdf"}},
		clock:     lifecycle.FixedClock{Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
	}

	return &testEnv{
		store:     fs,
		sessions:  sessions,
		files:     files,
		revisions: revisions,
		service:   svc,
		server:    NewHTTPServer(svc, "*"),
	}
}

func (e *testEnv) addUser(t *testing.T, id, name string) store.User {
	t.Helper()
	user := store.User{ID: id, DisplayName: name, Email: id + "@example.com", IsEmailVerified: true}
	e.store.users[id] = user
	return user
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	session, err := e.service.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session.Token
}

func (e *testEnv) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

// multipartBody builds a multipart body with a single "file" part.
func multipartBody(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	return multipartBodyWithFields(t, filename, content, nil)
}

func multipartBodyWithFields(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

