package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qualidoc/api/internal/revision"
	"qualidoc/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, display_name, email, password_hash, is_email_verified, verification_token, verification_expires_at, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- documents ----

const documentColumns = `id, user_id, point_number, title, revision, emission_date, file_path, status, is_obsolete, created_at, updated_at`

func scanDocument(scan func(...any) error) (Document, error) {
	var item Document
	err := scan(
		&item.ID, &item.UserID, &item.PointNumber, &item.Title, &item.Revision,
		&item.EmissionDate, &item.FilePath, &item.Status, &item.IsObsolete,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE user_id=$1 AND NOT is_obsolete
		ORDER BY point_number, title
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return scanDocument(row.Scan)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, point_number, title, revision, emission_date, file_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.UserID, item.PointNumber, item.Title, item.Revision, item.EmissionDate, item.FilePath, item.Status)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET point_number=$2, title=$3, revision=$4, emission_date=$5, file_path=$6, status=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.PointNumber, item.Title, item.Revision, item.EmissionDate, item.FilePath, item.Status)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, documentID, status)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its items unconditionally. Explicit
// deletion performs no supersession bookkeeping.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document rows: %w", err)
	}
	return affected > 0, nil
}

// ---- document items ----

const itemColumns = `id, document_id, title, revision, expiration_date, notification_value, notification_unit, status, file_url, is_obsolete, last_notified_status, created_at, updated_at`

func scanItem(scan func(...any) error) (DocumentItem, error) {
	var item DocumentItem
	err := scan(
		&item.ID, &item.DocumentID, &item.Title, &item.Revision,
		&item.ExpirationDate, &item.NotificationValue, &item.NotificationUnit,
		&item.Status, &item.FileURL, &item.IsObsolete, &item.LastNotifiedStatus,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListItems(ctx context.Context, documentID string, includeObsolete bool) ([]DocumentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM document_items
		WHERE document_id=$1 AND ($2 OR NOT is_obsolete)
		ORDER BY title, revision
	`, documentID, includeObsolete)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentItem, 0)
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (DocumentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM document_items WHERE id=$1`, itemID)
	return scanItem(row.Scan)
}

// GetLatestNonObsoleteItem returns the active item of a (document, title)
// group, or nil when the group has none.
func (s *PostgresStore) GetLatestNonObsoleteItem(ctx context.Context, documentID, title string) (*revision.ItemSummary, error) {
	var summary revision.ItemSummary
	var fileURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, revision, file_url
		FROM document_items
		WHERE document_id=$1 AND title=$2 AND NOT is_obsolete
		ORDER BY revision DESC
		LIMIT 1
	`, documentID, title).Scan(&summary.ID, &summary.Revision, &fileURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest item: %w", err)
	}
	summary.FileURL = fileURL.String
	return &summary, nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, item revision.NewItem) (string, error) {
	id := util.NewID("item")
	var fileURL *string
	if item.FileURL != "" {
		fileURL = &item.FileURL
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_items (id, document_id, title, revision, expiration_date, notification_value, notification_unit, file_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, item.DocumentID, item.Title, item.Revision, item.ExpirationDate, item.NotificationValue, string(item.NotificationUnit), fileURL)
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item DocumentItem) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_items
		SET title=$2, expiration_date=$3, notification_value=$4, notification_unit=$5, updated_at=NOW()
		WHERE id=$1 AND NOT is_obsolete
	`, item.ID, item.Title, item.ExpirationDate, item.NotificationValue, item.NotificationUnit)
	if err != nil {
		return false, fmt.Errorf("update item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update item rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkItemObsolete(ctx context.Context, itemID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_items SET is_obsolete=TRUE, updated_at=NOW() WHERE id=$1 AND NOT is_obsolete
	`, itemID)
	if err != nil {
		return false, fmt.Errorf("mark item obsolete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark item obsolete rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateItemFileURL(ctx context.Context, itemID, fileURL string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_items SET file_url=$2, updated_at=NOW() WHERE id=$1
	`, itemID, fileURL)
	if err != nil {
		return false, fmt.Errorf("update item file url: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update item file url rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_items WHERE id=$1`, itemID)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete item rows: %w", err)
	}
	return affected > 0, nil
}

// ---- expiry notifications ----

func (s *PostgresStore) ListNotificationCandidates(ctx context.Context) ([]NotificationCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, d.title, i.expiration_date, i.notification_value, i.notification_unit, i.last_notified_status, u.email, u.display_name
		FROM document_items i
		JOIN documents d ON d.id = i.document_id
		JOIN users u ON u.id = d.user_id
		WHERE NOT i.is_obsolete AND NOT d.is_obsolete AND i.expiration_date IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list notification candidates: %w", err)
	}
	defer rows.Close()

	items := make([]NotificationCandidate, 0)
	for rows.Next() {
		var c NotificationCandidate
		if err := rows.Scan(
			&c.ItemID, &c.ItemTitle, &c.DocumentTitle, &c.ExpirationDate,
			&c.NotificationValue, &c.NotificationUnit, &c.LastNotifiedStatus,
			&c.OwnerEmail, &c.OwnerName,
		); err != nil {
			return nil, fmt.Errorf("scan notification candidate: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification candidates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetItemNotifiedStatus(ctx context.Context, itemID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE document_items SET last_notified_status=$2 WHERE id=$1
	`, itemID, status)
	if err != nil {
		return fmt.Errorf("set notified status: %w", err)
	}
	return nil
}
