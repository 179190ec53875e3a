package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"qualidoc/api/internal/archive"
	"qualidoc/api/internal/auth"
	"qualidoc/api/internal/authpw"
	"qualidoc/api/internal/config"
	"qualidoc/api/internal/docname"
	"qualidoc/api/internal/email"
	"qualidoc/api/internal/export"
	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/revision"
	"qualidoc/api/internal/storage"
	"qualidoc/api/internal/store"
	"qualidoc/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// ItemInput carries a new or updated document item.
type ItemInput struct {
	Title             string `json:"title"`
	Revision          int    `json:"revision"`
	ExpirationDate    string `json:"expirationDate"` // "2006-01-02", empty for none
	NotificationValue int    `json:"notificationValue"`
	NotificationUnit  string `json:"notificationUnit"`
}

func (in ItemInput) validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Revision, validation.Required, validation.Min(1)),
		validation.Field(&in.NotificationValue, validation.Min(0)),
		validation.Field(&in.NotificationUnit, validation.In("", "days", "months")),
	)
}

// UpdateDocumentInput carries document metadata edits. Nil fields are left
// unchanged.
type UpdateDocumentInput struct {
	PointNumber *string `json:"pointNumber"`
	Title       *string `json:"title"`
}

// DocumentMetadataInput supplies document metadata explicitly on upload,
// bypassing the filename convention.
type DocumentMetadataInput struct {
	PointNumber  string `json:"pointNumber"`
	Title        string `json:"title"`
	Revision     int    `json:"revision"`
	EmissionDate string `json:"emissionDate"`
}

func (in DocumentMetadataInput) validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.PointNumber, validation.Required, validation.Length(1, 50)),
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Revision, validation.Required, validation.Min(1)),
		validation.Field(&in.EmissionDate, validation.Required, validation.Date("2006-01-02")),
	)
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListDocuments(ctx context.Context, userID string) ([]store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocument(ctx context.Context, doc store.Document) (bool, error)
	UpdateDocumentStatus(ctx context.Context, documentID, status string) error
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	ListItems(ctx context.Context, documentID string, includeObsolete bool) ([]store.DocumentItem, error)
	GetItem(ctx context.Context, itemID string) (store.DocumentItem, error)
	UpdateItem(ctx context.Context, item store.DocumentItem) (bool, error)
	DeleteItem(ctx context.Context, itemID string) (bool, error)
}

// RefreshSessionStore is the refresh-token surface. Redis in production,
// the Postgres store when Redis is not available.
type RefreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type supersessionManager interface {
	Supersede(ctx context.Context, item revision.NewItem) (revision.Outcome, error)
}

type registerExporter interface {
	ExportRegister(ctx context.Context, userID string) (*export.Result, error)
}

type archiveHistory interface {
	History(relPath string, limit int) ([]archive.Entry, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  RefreshSessionStore
	files     storage.FileStore
	revisions supersessionManager
	authpw    *authpw.Service
	email     *email.Service
	exporter  registerExporter
	history   archiveHistory
	clock     lifecycle.Clock
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions RefreshSessionStore,
	files storage.FileStore,
	revisions *revision.Manager,
	authService *authpw.Service,
	emailService *email.Service,
	exporter *export.Service,
	journal *archive.Journal,
) *Service {
	var history archiveHistory
	if journal != nil {
		history = journal
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		files:     files,
		revisions: revisions,
		authpw:    authService,
		email:     emailService,
		exporter:  exporter,
		history:   history,
		clock:     lifecycle.SystemClock{},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails the signup verification link when SMTP is
// configured. Failures are returned so callers can decide whether to surface
// them.
func (s *Service) SendVerificationEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendVerificationEmail(to, userName, s.cfg.BaseURL+"/verify-email?token="+token)
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendPasswordResetEmail(to, userName, s.cfg.BaseURL+"/reset-password?token="+token)
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session payload may carry only the user ID; reload the full row.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Documents

// UploadDocument stores the file and creates the document row. Metadata comes
// from the filename, which must follow the PointNumber-Title-Rev.N-YYYYMMDD.ext
// convention, unless an explicit override is supplied with the form.
func (s *Service) UploadDocument(ctx context.Context, userID, filename string, file io.Reader, size int64, override *DocumentMetadataInput) (map[string]any, error) {
	var meta docname.Metadata
	if override != nil {
		if err := override.validate(); err != nil {
			return nil, errValidation("invalid document metadata", map[string]any{"errors": err.Error()})
		}
		issued, _ := time.Parse("2006-01-02", override.EmissionDate)
		meta = docname.Metadata{
			PointNumber: strings.TrimSpace(override.PointNumber),
			Title:       strings.TrimSpace(override.Title),
			Revision:    override.Revision,
			IssueDate:   issued,
		}
	} else {
		parsed, err := docname.Parse(filename)
		if err != nil {
			var parseErr *docname.ParseError
			if errors.As(err, &parseErr) {
				return nil, errValidation("filename does not follow the PointNumber-Title-Rev.N-Date convention", map[string]any{
					"filename": parseErr.Filename,
					"reason":   string(parseErr.Reason),
				})
			}
			return nil, err
		}
		meta = parsed
	}

	objectName := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	path, err := s.files.Save(ctx, objectName, file, size)
	if err != nil {
		return nil, err
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		UserID:       userID,
		PointNumber:  meta.PointNumber,
		Title:        meta.Title,
		Revision:     docname.RevisionLabel(meta.Revision),
		EmissionDate: meta.IssueDate,
		FilePath:     path,
		Status:       string(lifecycle.StatusValid),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		// The row never existed, do not leave the stored file stranded.
		_ = s.files.Remove(ctx, path)
		return nil, err
	}

	return s.documentPayload(ctx, doc)
}

func (s *Service) ListDocuments(ctx context.Context, userID string) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload, err := s.documentPayload(ctx, doc)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (map[string]any, error) {
	doc, err := s.requireDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	return s.documentPayload(ctx, doc)
}

// UpdateDocument applies metadata edits and archives the document's current
// file before committing them, so every point-in-time version stays
// retrievable. When no replacement file is uploaded the archived copy remains
// the current file; when one is, the new upload takes its place.
func (s *Service) UpdateDocument(ctx context.Context, userID, documentID string, input UpdateDocumentInput, newFile io.Reader, newFilename string, size int64) (map[string]any, error) {
	doc, err := s.requireDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	if input.PointNumber != nil {
		doc.PointNumber = strings.TrimSpace(*input.PointNumber)
	}
	if input.Title != nil {
		doc.Title = strings.TrimSpace(*input.Title)
	}
	if doc.PointNumber == "" || doc.Title == "" {
		return nil, errValidation("pointNumber and title must not be empty", nil)
	}

	var meta *docname.Metadata
	if newFile != nil {
		parsed, err := docname.Parse(newFilename)
		if err != nil {
			var parseErr *docname.ParseError
			if errors.As(err, &parseErr) {
				return nil, errValidation("filename does not follow the PointNumber-Title-Rev.N-Date convention", map[string]any{
					"filename": parseErr.Filename,
					"reason":   string(parseErr.Reason),
				})
			}
			return nil, err
		}
		meta = &parsed
	}

	if doc.FilePath != "" {
		moved, err := s.files.Archive(ctx, doc.FilePath)
		switch {
		case errors.Is(err, storage.ErrSourceMissing):
		case err != nil:
			return nil, err
		case newFile == nil:
			// No replacement upload, so the archived copy stays current.
			doc.FilePath = moved
		}
	}

	if meta != nil {
		objectName := uuid.NewString() + strings.ToLower(filepath.Ext(newFilename))
		path, err := s.files.Save(ctx, objectName, newFile, size)
		if err != nil {
			return nil, err
		}
		doc.FilePath = path
		doc.PointNumber = meta.PointNumber
		doc.Title = meta.Title
		doc.Revision = docname.RevisionLabel(meta.Revision)
		doc.EmissionDate = meta.IssueDate
	}

	updated, err := s.store.UpdateDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errNotFound("document")
	}

	return s.documentPayload(ctx, doc)
}

// DeleteDocument removes the document, its items, and its stored file. The
// delete is unconditional; obsolete and still-valid documents go the same way.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	doc, err := s.requireDocument(ctx, userID, documentID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("document")
	}

	if doc.FilePath != "" {
		_ = s.files.Remove(ctx, doc.FilePath)
	}
	return nil
}

// DownloadDocument streams the document's current file. The returned name is
// the canonical convention filename rebuilt from the stored metadata.
func (s *Service) DownloadDocument(ctx context.Context, userID, documentID string) (io.ReadCloser, string, error) {
	doc, err := s.requireDocument(ctx, userID, documentID)
	if err != nil {
		return nil, "", err
	}
	if doc.FilePath == "" {
		return nil, "", errNotFound("document file")
	}

	rc, err := s.files.Open(ctx, doc.FilePath)
	if err != nil {
		return nil, "", err
	}

	name := docname.Format(docname.Metadata{
		PointNumber: doc.PointNumber,
		Title:       doc.Title,
		Revision:    revisionNumber(doc.Revision),
		IssueDate:   doc.EmissionDate,
	}, filepath.Ext(doc.FilePath))

	return rc, name, nil
}

// Items

func (s *Service) ListItems(ctx context.Context, userID, documentID string, includeObsolete bool) ([]map[string]any, error) {
	if _, err := s.requireDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}

	items, err := s.store.ListItems(ctx, documentID, includeObsolete)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, itemPayload(item, today))
	}
	return payloads, nil
}

// SupersedeItem adds a new item revision. The first revision of a title
// simply appears; later revisions retire the previous one and move its file
// into the obsolete area.
func (s *Service) SupersedeItem(ctx context.Context, userID, documentID string, input ItemInput) (map[string]any, error) {
	if _, err := s.requireDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, errValidation("invalid item", err)
	}

	expiration, err := parseDateField(input.ExpirationDate)
	if err != nil {
		return nil, errValidation("expirationDate must be YYYY-MM-DD", nil)
	}

	outcome, err := s.revisions.Supersede(ctx, revision.NewItem{
		DocumentID:        documentID,
		Title:             strings.TrimSpace(input.Title),
		Revision:          input.Revision,
		ExpirationDate:    expiration,
		NotificationValue: input.NotificationValue,
		NotificationUnit:  lifecycle.ParseUnit(input.NotificationUnit),
	})
	if err != nil {
		switch {
		case errors.Is(err, revision.ErrDuplicateRevision):
			return nil, domainError(http.StatusConflict, "DUPLICATE_REVISION", "an active item with this revision already exists", nil)
		case errors.Is(err, revision.ErrRevisionRegression):
			return nil, errValidation("revision must be greater than the active revision", nil)
		}
		return nil, err
	}

	payload := map[string]any{
		"id":         outcome.NewItemID,
		"superseded": outcome.Superseded(),
	}
	if outcome.Superseded() {
		payload["supersededId"] = outcome.SupersededID
		if outcome.RelocatedTo != "" {
			payload["archivedFile"] = outcome.RelocatedTo
		}
		if outcome.RelocationErr != nil {
			payload["archiveWarning"] = outcome.RelocationErr.Error()
		}
	}
	return payload, nil
}

// AttachItemFile stores a file for an existing item.
func (s *Service) AttachItemFile(ctx context.Context, userID, itemID, filename string, file io.Reader, size int64) (map[string]any, error) {
	item, err := s.requireItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	objectName := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	path, err := s.files.Save(ctx, objectName, file, size)
	if err != nil {
		return nil, err
	}

	if item.FileURL != nil && *item.FileURL != "" {
		if _, err := s.files.Archive(ctx, *item.FileURL); err != nil && !errors.Is(err, storage.ErrSourceMissing) {
			return nil, err
		}
	}

	item.FileURL = &path
	updated, err := s.store.UpdateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errNotFound("item")
	}

	return itemPayload(item, s.clock.Today()), nil
}

func (s *Service) GetItem(ctx context.Context, userID, itemID string) (map[string]any, error) {
	item, err := s.requireItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	return itemPayload(item, s.clock.Today()), nil
}

// UpdateItem edits an item's schedule in place. Revision changes go through
// SupersedeItem, never here.
func (s *Service) UpdateItem(ctx context.Context, userID, itemID string, input ItemInput) (map[string]any, error) {
	item, err := s.requireItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Title) != "" {
		item.Title = strings.TrimSpace(input.Title)
	}
	expiration, err := parseDateField(input.ExpirationDate)
	if err != nil {
		return nil, errValidation("expirationDate must be YYYY-MM-DD", nil)
	}
	if expiration != nil {
		item.ExpirationDate = expiration
	}
	if input.NotificationValue > 0 {
		item.NotificationValue = input.NotificationValue
	}
	if input.NotificationUnit != "" {
		item.NotificationUnit = string(lifecycle.ParseUnit(input.NotificationUnit))
	}

	updated, err := s.store.UpdateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errNotFound("item")
	}

	return itemPayload(item, s.clock.Today()), nil
}

func (s *Service) DeleteItem(ctx context.Context, userID, itemID string) error {
	item, err := s.requireItem(ctx, userID, itemID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("item")
	}

	if item.FileURL != nil && *item.FileURL != "" {
		_ = s.files.Remove(ctx, *item.FileURL)
	}
	return nil
}

// Register export and archive history

func (s *Service) ExportRegister(ctx context.Context, userID string) (*export.Result, error) {
	return s.exporter.ExportRegister(ctx, userID)
}

func (s *Service) ArchiveHistory(path string, limit int) ([]map[string]any, error) {
	if s.history == nil {
		return []map[string]any{}, nil
	}
	entries, err := s.history.History(path, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		payloads = append(payloads, map[string]any{
			"hash":     e.Hash,
			"message":  e.Message,
			"recorded": e.Recorded.UTC().Format(time.RFC3339),
		})
	}
	return payloads, nil
}

// helpers

// requireDocument loads a document and enforces ownership. Foreign documents
// read as not found, never as forbidden, so IDs cannot be probed.
func (s *Service) requireDocument(ctx context.Context, userID, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if doc.UserID != userID {
		return store.Document{}, errNotFound("document")
	}
	return doc, nil
}

func (s *Service) requireItem(ctx context.Context, userID, itemID string) (store.DocumentItem, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return store.DocumentItem{}, err
	}
	if _, err := s.requireDocument(ctx, userID, item.DocumentID); err != nil {
		return store.DocumentItem{}, errNotFound("item")
	}
	return item, nil
}

// documentPayload recomputes the aggregate status from the document's active
// items, refreshes the cached column when stale, and shapes the response.
func (s *Service) documentPayload(ctx context.Context, doc store.Document) (map[string]any, error) {
	items, err := s.store.ListItems(ctx, doc.ID, false)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	statuses := make([]lifecycle.Status, 0, len(items))
	itemPayloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, itemStatus(item, today))
		itemPayloads = append(itemPayloads, itemPayload(item, today))
	}
	aggregate := lifecycle.Aggregate(statuses)

	if string(aggregate) != doc.Status {
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, string(aggregate)); err != nil {
			return nil, err
		}
		doc.Status = string(aggregate)
	}

	return map[string]any{
		"id":           doc.ID,
		"pointNumber":  doc.PointNumber,
		"title":        doc.Title,
		"revision":     doc.Revision,
		"emissionDate": doc.EmissionDate.Format("2006-01-02"),
		"status":       doc.Status,
		"items":        itemPayloads,
	}, nil
}

func itemStatus(item store.DocumentItem, today time.Time) lifecycle.Status {
	return lifecycle.Compute(item.ExpirationDate, item.NotificationValue, lifecycle.ParseUnit(item.NotificationUnit), today)
}

func itemPayload(item store.DocumentItem, today time.Time) map[string]any {
	payload := map[string]any{
		"id":                item.ID,
		"documentId":        item.DocumentID,
		"title":             item.Title,
		"revision":          item.Revision,
		"revisionLabel":     docname.RevisionLabel(item.Revision),
		"notificationValue": item.NotificationValue,
		"notificationUnit":  item.NotificationUnit,
		"status":            string(itemStatus(item, today)),
		"isObsolete":        item.IsObsolete,
	}
	if item.ExpirationDate != nil {
		payload["expirationDate"] = item.ExpirationDate.Format("2006-01-02")
	}
	if item.FileURL != nil && *item.FileURL != "" {
		payload["hasFile"] = true
	}
	return payload
}

func parseDateField(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func revisionNumber(label string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(label, "Rev."))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
