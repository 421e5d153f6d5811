package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

// SQLiteWalletRepository implements WalletRepository for SQLite/libsql.
type SQLiteWalletRepository struct {
	db *sql.DB
}

// NewSQLiteWalletRepository creates a new SQLite wallet repository.
func NewSQLiteWalletRepository(db *sql.DB) *SQLiteWalletRepository {
	return &SQLiteWalletRepository{db: db}
}

func (r *SQLiteWalletRepository) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `
		SELECT user_id, balance, lifetime_earned, lifetime_spent, last_updated
		FROM user_coins WHERE user_id = ?
	`
	var w models.Wallet
	var lastUpdated string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&w.UserID,
		&w.Balance,
		&w.LifetimeEarned,
		&w.LifetimeSpent,
		&lastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	w.LastUpdated = parseTime(lastUpdated)
	return &w, nil
}

// Create inserts a wallet row. A concurrent insert of the same user is not
// an error; the first writer wins.
func (r *SQLiteWalletRepository) Create(ctx context.Context, w *models.Wallet) error {
	query := `
		INSERT OR IGNORE INTO user_coins (user_id, balance, lifetime_earned, lifetime_spent, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		w.UserID,
		w.Balance,
		w.LifetimeEarned,
		w.LifetimeSpent,
		formatTime(w.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// UpdateConditional writes the wallet guarded by the expected balance.
// Interleaved writers make the guard miss; callers re-read and retry.
func (r *SQLiteWalletRepository) UpdateConditional(ctx context.Context, w *models.Wallet, expectedBalance int64) (bool, error) {
	query := `
		UPDATE user_coins
		SET balance = ?, lifetime_earned = ?, lifetime_spent = ?, last_updated = ?
		WHERE user_id = ? AND balance = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		w.Balance,
		w.LifetimeEarned,
		w.LifetimeSpent,
		formatTime(time.Now()),
		w.UserID,
		expectedBalance,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update wallet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}
