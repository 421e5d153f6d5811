package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

// Ledger constants.
const (
	GenerationCost       = 5
	AdReward             = 5
	MaxAdsPerDay         = 50
	DuplicateCheckWindow = 5 * time.Minute
)

// walletRetries bounds the optimistic-concurrency retry loop on wallet writes.
const walletRetries = 3

var (
	// ErrInsufficientCoins indicates the user cannot afford the operation.
	ErrInsufficientCoins = errors.New("insufficient coins")

	// ErrWalletConflict indicates concurrent wallet writers exhausted the retries.
	ErrWalletConflict = errors.New("wallet update conflict")
)

// CoinService handles the coin wallet and the append-only transaction ledger.
type CoinService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewCoinService creates a new coin service.
func NewCoinService(repos *repository.Repositories, logger *slog.Logger) *CoinService {
	return &CoinService{repos: repos, logger: logger}
}

// GetWallet returns the user's wallet, lazily creating it at zero balance.
func (s *CoinService) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	wallet, err := s.repos.Wallet.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = &models.Wallet{UserID: userID, LastUpdated: time.Now()}
	if err := s.repos.Wallet.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	// Re-read in case a concurrent creator won the insert
	wallet, err = s.repos.Wallet.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// Balance returns the user's current balance.
func (s *CoinService) Balance(ctx context.Context, userID string) (int64, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// GenerationsAvailable returns how many jobs the balance can pay for.
func GenerationsAvailable(balance int64) int64 {
	return balance / GenerationCost
}

// Deduct removes coins from the wallet and appends a generation_used
// transaction. The wallet write is guarded by the expected balance and
// retried on conflict, so interleaved deductions cannot drive the balance
// negative.
func (s *CoinService) Deduct(ctx context.Context, userID string, coins int64, referenceID, description string) (*models.Wallet, error) {
	if coins <= 0 {
		return nil, fmt.Errorf("deduct amount must be positive")
	}

	for attempt := 0; attempt < walletRetries; attempt++ {
		wallet, err := s.GetWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
		if wallet.Balance < coins {
			return nil, ErrInsufficientCoins
		}

		expected := wallet.Balance
		wallet.Balance -= coins
		wallet.LifetimeSpent += coins

		ok, err := s.repos.Wallet.UpdateConditional(ctx, wallet, expected)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct coins: %w", err)
		}
		if !ok {
			continue
		}

		s.appendTransaction(ctx, userID, models.TxTypeGenerationUsed, -coins, wallet.Balance, referenceID, description, nil)
		return wallet, nil
	}

	return nil, ErrWalletConflict
}

// Award adds coins to the wallet and appends a transaction of the given
// source type. For ad_watched the caller must have established verification.
func (s *CoinService) Award(ctx context.Context, userID string, coins int64, source models.TransactionType, referenceID, description string, metadata map[string]any) (*models.Wallet, string, error) {
	if coins <= 0 {
		return nil, "", fmt.Errorf("award amount must be positive")
	}

	for attempt := 0; attempt < walletRetries; attempt++ {
		wallet, err := s.GetWallet(ctx, userID)
		if err != nil {
			return nil, "", err
		}

		expected := wallet.Balance
		wallet.Balance += coins
		wallet.LifetimeEarned += coins

		ok, err := s.repos.Wallet.UpdateConditional(ctx, wallet, expected)
		if err != nil {
			return nil, "", fmt.Errorf("failed to award coins: %w", err)
		}
		if !ok {
			continue
		}

		txID := s.appendTransaction(ctx, userID, source, coins, wallet.Balance, referenceID, description, metadata)
		return wallet, txID, nil
	}

	return nil, "", ErrWalletConflict
}

// Refund returns coins after a failed job insert so the user never pays for
// a job that does not exist.
func (s *CoinService) Refund(ctx context.Context, userID string, coins int64, jobID string) error {
	_, _, err := s.Award(ctx, userID, coins, models.TxTypeRefund, jobID,
		fmt.Sprintf("Refund for failed job %s", jobID), nil)
	return err
}

// CheckDuplicate reports whether the user already has an ad completion for
// this click id within the duplicate window.
func (s *CoinService) CheckDuplicate(ctx context.Context, userID, clickID string) (bool, error) {
	return s.repos.AdCompletion.ExistsRecent(ctx, userID, clickID, DuplicateCheckWindow)
}

// CheckDailyLimit reports whether the user reached the daily ad cap.
// The day boundary is UTC midnight.
func (s *CoinService) CheckDailyLimit(ctx context.Context, userID string) (bool, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := s.repos.AdCompletion.CountSince(ctx, userID, midnight)
	if err != nil {
		return false, err
	}
	return count >= MaxAdsPerDay, nil
}

// History returns the user's transaction history, newest first.
func (s *CoinService) History(ctx context.Context, userID string, limit, offset int) ([]*models.CoinTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.CoinTransaction.GetByUserID(ctx, userID, limit, offset)
}

// AdminAdjust applies a manual balance adjustment, positive or negative,
// recorded as an admin_bonus transaction.
func (s *CoinService) AdminAdjust(ctx context.Context, userID string, coins int64, description string) error {
	if coins == 0 {
		return nil
	}

	for attempt := 0; attempt < walletRetries; attempt++ {
		wallet, err := s.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance+coins < 0 {
			return ErrInsufficientCoins
		}

		expected := wallet.Balance
		wallet.Balance += coins
		if coins > 0 {
			wallet.LifetimeEarned += coins
		} else {
			wallet.LifetimeSpent -= coins
		}

		ok, err := s.repos.Wallet.UpdateConditional(ctx, wallet, expected)
		if err != nil {
			return fmt.Errorf("failed to adjust balance: %w", err)
		}
		if !ok {
			continue
		}

		s.appendTransaction(ctx, userID, models.TxTypeAdminBonus, coins, wallet.Balance, "", description, nil)
		return nil
	}

	return ErrWalletConflict
}

// appendTransaction records a ledger entry for an already-applied wallet
// write. Ledger append failures are logged, not propagated: the wallet is
// the balance of record and the transaction log is audit.
func (s *CoinService) appendTransaction(ctx context.Context, userID string, txType models.TransactionType,
	delta, balanceAfter int64, referenceID, description string, metadata map[string]any) string {

	tx := &models.CoinTransaction{
		ID:           ulid.Make().String(),
		UserID:       userID,
		Type:         txType,
		CoinsDelta:   delta,
		BalanceAfter: balanceAfter,
		ReferenceID:  referenceID,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}
	if err := s.repos.CoinTransaction.Create(ctx, tx); err != nil {
		s.logger.Error("failed to append coin transaction",
			"user_id", userID,
			"type", txType,
			"delta", delta,
			"error", err,
		)
		return ""
	}

	s.logger.Info("coin transaction recorded",
		"user_id", userID,
		"type", txType,
		"delta", delta,
		"balance_after", balanceAfter,
	)
	return tx.ID
}
