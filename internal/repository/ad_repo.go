package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

const adSessionColumns = `id, user_id, click_id, zone_id, ad_type, status, verified,
	revenue, ip, user_agent, created_at, completed_at, postback_timestamp`

// SQLiteAdSessionRepository implements AdSessionRepository for SQLite/libsql.
type SQLiteAdSessionRepository struct {
	db *sql.DB
}

// NewSQLiteAdSessionRepository creates a new SQLite ad session repository.
func NewSQLiteAdSessionRepository(db *sql.DB) *SQLiteAdSessionRepository {
	return &SQLiteAdSessionRepository{db: db}
}

func (r *SQLiteAdSessionRepository) Create(ctx context.Context, s *models.AdSession) error {
	query := `
		INSERT INTO ad_sessions (id, user_id, click_id, zone_id, ad_type, status,
			verified, revenue, ip, user_agent, created_at, completed_at, postback_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.UserID,
		s.ClickID,
		nullString(s.ZoneID),
		nullString(s.AdType),
		s.Status,
		s.Verified,
		s.Revenue.String(),
		nullString(s.IP),
		nullString(s.UserAgent),
		formatTime(s.CreatedAt),
		nullTime(s.CompletedAt),
		nullTime(s.PostbackAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create ad session: %w", err)
	}
	return nil
}

func (r *SQLiteAdSessionRepository) GetByID(ctx context.Context, id string) (*models.AdSession, error) {
	query := `SELECT ` + adSessionColumns + ` FROM ad_sessions WHERE id = ?`
	s, err := scanAdSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SQLiteAdSessionRepository) GetByClickID(ctx context.Context, clickID string) (*models.AdSession, error) {
	query := `SELECT ` + adSessionColumns + ` FROM ad_sessions WHERE click_id = ?`
	s, err := scanAdSession(r.db.QueryRowContext(ctx, query, clickID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// RecordPostback stores the verification outcome for the session matching
// the click id. Re-delivered postbacks overwrite with the same values, so
// the write is idempotent. A failed postback also moves the session to
// failed unless it was already claimed.
func (r *SQLiteAdSessionRepository) RecordPostback(ctx context.Context, clickID string, revenue string, failed bool, at time.Time) (bool, error) {
	query := `
		UPDATE ad_sessions
		SET verified = 1, revenue = ?, postback_timestamp = ?,
			status = CASE WHEN ? AND status != 'completed' THEN 'failed' ELSE status END
		WHERE click_id = ?
	`
	result, err := r.db.ExecContext(ctx, query, revenue, formatTime(at), failed, clickID)
	if err != nil {
		return false, fmt.Errorf("failed to record postback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted conditionally completes a verified session. The guard makes
// completed terminal: a second claim finds zero rows.
func (r *SQLiteAdSessionRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE ad_sessions
		SET status = 'completed', completed_at = ?
		WHERE id = ? AND verified = 1 AND status != 'completed'
	`
	result, err := r.db.ExecContext(ctx, query, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to complete ad session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func scanAdSession(row rowScanner) (*models.AdSession, error) {
	var s models.AdSession
	var zoneID, adType, ip, userAgent sql.NullString
	var completedAt, postbackAt sql.NullString
	var revenue, createdAt string

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ClickID,
		&zoneID,
		&adType,
		&s.Status,
		&s.Verified,
		&revenue,
		&ip,
		&userAgent,
		&createdAt,
		&completedAt,
		&postbackAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ad session: %w", err)
	}

	s.ZoneID = zoneID.String
	s.AdType = adType.String
	s.IP = ip.String
	s.UserAgent = userAgent.String
	s.Revenue, _ = decimal.NewFromString(revenue)
	s.CreatedAt = parseTime(createdAt)
	s.CompletedAt = parseTimePtr(completedAt)
	s.PostbackAt = parseTimePtr(postbackAt)

	return &s, nil
}

// SQLiteAdCompletionRepository implements AdCompletionRepository.
type SQLiteAdCompletionRepository struct {
	db *sql.DB
}

// NewSQLiteAdCompletionRepository creates a new SQLite ad completion repository.
func NewSQLiteAdCompletionRepository(db *sql.DB) *SQLiteAdCompletionRepository {
	return &SQLiteAdCompletionRepository{db: db}
}

func (r *SQLiteAdCompletionRepository) Create(ctx context.Context, c *models.AdCompletion) error {
	query := `
		INSERT INTO ad_completions (id, user_id, session_id, click_id, transaction_id, coins, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.SessionID,
		c.ClickID,
		nullString(c.TransactionID),
		c.Coins,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create ad completion: %w", err)
	}
	return nil
}

// Delete removes a completion row. The claim path uses it to roll back the
// idempotency gate when the coin award fails, keeping the claim retryable.
func (r *SQLiteAdCompletionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ad_completions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ad completion: %w", err)
	}
	return nil
}

func (r *SQLiteAdCompletionRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ad_completions WHERE user_id = ? AND created_at >= ?`
	var count int
	err := r.db.QueryRowContext(ctx, query, userID, formatTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ad completions: %w", err)
	}
	return count, nil
}

func (r *SQLiteAdCompletionRepository) ExistsRecent(ctx context.Context, userID, clickID string, window time.Duration) (bool, error) {
	cutoff := formatTime(time.Now().Add(-window))
	query := `
		SELECT COUNT(*) FROM ad_completions
		WHERE user_id = ? AND click_id = ? AND created_at >= ?
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, userID, clickID, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent ad completion: %w", err)
	}
	return count > 0, nil
}
