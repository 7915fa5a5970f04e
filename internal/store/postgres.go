package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blocksign/api/internal/draft"
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

const draftColumns = `
	id, owner_address, title, prompt, params, language, contract, summary, risks,
	pdf_sha256, pdf_size, pdf_object_key, ipfs_cid, ipfs_url, walrus_blob_id, walrus_url,
	document_id, tx_digest, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (Draft, error) {
	var (
		item                  Draft
		params, summary, risk []byte
	)
	err := row.Scan(
		&item.ID, &item.Owner, &item.Title, &item.Prompt, &params, &item.Language, &item.Contract, &summary, &risk,
		&item.PDF.SHA256, &item.PDF.Size, &item.PDF.ObjectKey, &item.IPFS.ID, &item.IPFS.URL, &item.Walrus.ID, &item.Walrus.URL,
		&item.DocumentID, &item.TxDigest, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Draft{}, err
	}
	if err := json.Unmarshal(params, &item.Params); err != nil {
		return Draft{}, fmt.Errorf("decode draft params: %w", err)
	}
	if err := json.Unmarshal(summary, &item.Summary); err != nil {
		return Draft{}, fmt.Errorf("decode draft summary: %w", err)
	}
	if err := json.Unmarshal(risk, &item.Risks); err != nil {
		return Draft{}, fmt.Errorf("decode draft risks: %w", err)
	}
	if item.Summary == nil {
		item.Summary = []string{}
	}
	if item.Risks == nil {
		item.Risks = []draft.Risk{}
	}
	return item, nil
}

func encodeAnalysis(summary []string, risks []draft.Risk) ([]byte, []byte, error) {
	if summary == nil {
		summary = []string{}
	}
	if risks == nil {
		risks = []draft.Risk{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("encode summary: %w", err)
	}
	risksJSON, err := json.Marshal(risks)
	if err != nil {
		return nil, nil, fmt.Errorf("encode risks: %w", err)
	}
	return summaryJSON, risksJSON, nil
}

func (s *PostgresStore) InsertDraft(ctx context.Context, item Draft) (Draft, error) {
	params, err := json.Marshal(item.Params)
	if err != nil {
		return Draft{}, fmt.Errorf("encode params: %w", err)
	}
	summary, risks, err := encodeAnalysis(item.Summary, item.Risks)
	if err != nil {
		return Draft{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, owner_address, title, prompt, params, language, contract, summary, risks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+draftColumns,
		item.ID, item.Owner, item.Title, item.Prompt, params, item.Language, item.Contract, summary, risks,
	)
	saved, err := scanDraft(row)
	if err != nil {
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=$1`, draftID)
	return scanDraft(row)
}

// ListDrafts returns the newest drafts first. An empty owner lists every draft.
func (s *PostgresStore) ListDrafts(ctx context.Context, owner string, limit int) ([]Draft, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts
		WHERE ($1 = '' OR owner_address = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		item, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDraftContent(ctx context.Context, draftID string, content DraftContent) (Draft, error) {
	summary, risks, err := encodeAnalysis(content.Summary, content.Risks)
	if err != nil {
		return Draft{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE drafts
		SET title=$2, contract=$3, summary=$4, risks=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+draftColumns,
		draftID, content.Title, content.Contract, summary, risks,
	)
	return scanDraft(row)
}

func (s *PostgresStore) SetDraftPDF(ctx context.Context, draftID string, info PDFInfo) error {
	return s.execOne(ctx, "set draft pdf", `
		UPDATE drafts SET pdf_sha256=$2, pdf_size=$3, pdf_object_key=$4, updated_at=NOW()
		WHERE id=$1
	`, draftID, info.SHA256, info.Size, info.ObjectKey)
}

// SetDraftPublication records the pinned copies of the draft PDF. Empty pins keep
// the stored value.
func (s *PostgresStore) SetDraftPublication(ctx context.Context, draftID string, ipfs, walrus Pin) error {
	return s.execOne(ctx, "set draft publication", `
		UPDATE drafts
		SET ipfs_cid=COALESCE(NULLIF($2, ''), ipfs_cid),
			ipfs_url=COALESCE(NULLIF($3, ''), ipfs_url),
			walrus_blob_id=COALESCE(NULLIF($4, ''), walrus_blob_id),
			walrus_url=COALESCE(NULLIF($5, ''), walrus_url),
			updated_at=NOW()
		WHERE id=$1
	`, draftID, ipfs.ID, ipfs.URL, walrus.ID, walrus.URL)
}

func (s *PostgresStore) SetDraftAnchor(ctx context.Context, draftID, documentID, digest string) error {
	return s.execOne(ctx, "set draft anchor", `
		UPDATE drafts SET document_id=$2, tx_digest=$3, updated_at=NOW()
		WHERE id=$1
	`, draftID, documentID, digest)
}

// DraftByDocument finds the draft anchored as documentID.
func (s *PostgresStore) DraftByDocument(ctx context.Context, documentID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+` FROM drafts WHERE document_id=$1 ORDER BY updated_at DESC LIMIT 1
	`, documentID)
	return scanDraft(row)
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Refresh sessions are kept here when Redis is not configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, session WalletSession, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, address, wallet_type, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET address=EXCLUDED.address, wallet_type=EXCLUDED.wallet_type, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, session.Address, session.WalletType, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (WalletSession, error) {
	var session WalletSession
	err := s.db.QueryRowContext(ctx, `
		SELECT address, wallet_type, created_at
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&session.Address, &session.WalletType, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletSession{}, ErrSessionNotFound
	}
	if err != nil {
		return WalletSession{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return session, nil
}

// ConsumeRefreshSession revokes a live refresh session and returns it. Only one
// of several concurrent callers gets the row.
func (s *PostgresStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (WalletSession, error) {
	var session WalletSession
	err := s.db.QueryRowContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at = NOW()
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
		RETURNING address, wallet_type, created_at
	`, tokenHash).Scan(&session.Address, &session.WalletType, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletSession{}, ErrSessionNotFound
	}
	if err != nil {
		return WalletSession{}, fmt.Errorf("consume refresh session: %w", err)
	}
	return session, nil
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

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
