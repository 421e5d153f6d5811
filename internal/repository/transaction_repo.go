package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

// SQLiteCoinTransactionRepository implements CoinTransactionRepository.
type SQLiteCoinTransactionRepository struct {
	db *sql.DB
}

// NewSQLiteCoinTransactionRepository creates a new SQLite coin transaction repository.
func NewSQLiteCoinTransactionRepository(db *sql.DB) *SQLiteCoinTransactionRepository {
	return &SQLiteCoinTransactionRepository{db: db}
}

func (r *SQLiteCoinTransactionRepository) Create(ctx context.Context, tx *models.CoinTransaction) error {
	query := `
		INSERT INTO coin_transactions (id, user_id, type, coins_delta, balance_after,
			reference_id, description, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Type,
		tx.CoinsDelta,
		tx.BalanceAfter,
		nullString(tx.ReferenceID),
		nullString(tx.Description),
		marshalMetadata(tx.Metadata),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create coin transaction: %w", err)
	}
	return nil
}

func (r *SQLiteCoinTransactionRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CoinTransaction, error) {
	query := `
		SELECT id, user_id, type, coins_delta, balance_after, reference_id,
			description, metadata_json, created_at
		FROM coin_transactions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query coin transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CoinTransaction
	for rows.Next() {
		var tx models.CoinTransaction
		var referenceID, description, metadataJSON sql.NullString
		var createdAt string
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.CoinsDelta,
			&tx.BalanceAfter,
			&referenceID,
			&description,
			&metadataJSON,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan coin transaction: %w", err)
		}
		tx.ReferenceID = referenceID.String
		tx.Description = description.String
		tx.Metadata = unmarshalMetadata(metadataJSON)
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}
