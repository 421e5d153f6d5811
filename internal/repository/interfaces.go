// Package repository defines repository interfaces for data access.
// Note: user identities are owned by the external identity service; user_id
// values are opaque identifiers.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

// JobRepository defines methods for job data access.
// Every committed write publishes a ChangeEvent on the store feed.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByUserID(ctx context.Context, userID string, status models.JobStatus, limit int) ([]*models.Job, error)
	// GetPending returns all pending jobs ordered by created_at ascending.
	GetPending(ctx context.Context) ([]*models.Job, error)
	// Claim atomically flips the given job from pending to running.
	// Returns nil when another worker won the claim.
	Claim(ctx context.Context, id string) (*models.Job, error)
	// ClaimNextPending atomically claims the oldest pending job.
	ClaimNextPending(ctx context.Context) (*models.Job, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id, imageURL, thumbnailURL, videoURL string) error
	Fail(ctx context.Context, id, errorMessage string) error
	// Requeue returns a running job to pending so a later pass retries it.
	Requeue(ctx context.Context, id string) (bool, error)
	// Cancel flips a pending job to cancelled; only the owner may cancel.
	Cancel(ctx context.Context, id, userID string) (bool, error)
	Stats(ctx context.Context, userID string) (*models.JobStats, error)
	// LatestInProgress returns the most recent pending-or-running job of the
	// given type for resume-on-reload, or nil.
	LatestInProgress(ctx context.Context, userID string, jobType models.JobType) (*models.Job, error)
	// RequeueStaleRunning returns running jobs older than maxAge to pending.
	RequeueStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error)
}

// DeploymentRepository defines methods for the endpoint registry rows.
type DeploymentRepository interface {
	Create(ctx context.Context, d *models.Deployment) error
	GetByID(ctx context.Context, id string) (*models.Deployment, error)
	// GetActive returns the active deployment with a non-empty URL for the
	// job type. Tie-break on highest deployment_number.
	GetActive(ctx context.Context, jobType models.JobType) (*models.Deployment, error)
	// MarkInactive conditionally flips is_active guarded by is_active=true.
	MarkInactive(ctx context.Context, id, reason string) (bool, error)
	// PromoteNext activates the lowest-numbered never-deactivated deployment
	// with a URL for the job type.
	PromoteNext(ctx context.Context, jobType models.JobType) (*models.Deployment, error)
}

// WalletRepository defines methods for coin wallet access.
type WalletRepository interface {
	Get(ctx context.Context, userID string) (*models.Wallet, error)
	// Create inserts a wallet row, ignoring a concurrent insert of the same user.
	Create(ctx context.Context, w *models.Wallet) error
	// UpdateConditional writes the wallet guarded by the expected balance.
	// Returns false when the guard missed (concurrent writer won).
	UpdateConditional(ctx context.Context, w *models.Wallet, expectedBalance int64) (bool, error)
}

// CoinTransactionRepository defines methods for the append-only ledger.
type CoinTransactionRepository interface {
	Create(ctx context.Context, tx *models.CoinTransaction) error
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CoinTransaction, error)
}

// AdSessionRepository defines methods for ad session access.
type AdSessionRepository interface {
	Create(ctx context.Context, s *models.AdSession) error
	GetByID(ctx context.Context, id string) (*models.AdSession, error)
	GetByClickID(ctx context.Context, clickID string) (*models.AdSession, error)
	// RecordPostback stores the verification outcome for a click id.
	RecordPostback(ctx context.Context, clickID string, revenue string, failed bool, at time.Time) (bool, error)
	// MarkCompleted conditionally completes a verified, not-yet-completed session.
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

// AdCompletionRepository defines methods for claim audit rows.
type AdCompletionRepository interface {
	// Create inserts the completion row; the UNIQUE session_id constraint
	// makes a duplicate claim fail here.
	Create(ctx context.Context, c *models.AdCompletion) error
	// Delete removes a completion, reopening the claim for retry.
	Delete(ctx context.Context, id string) error
	// CountSince counts completions for the user at or after the cutoff.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ExistsRecent reports a completion for (user, click_id) within the window.
	ExistsRecent(ctx context.Context, userID, clickID string, window time.Duration) (bool, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Job             JobRepository
	Deployment      DeploymentRepository
	Wallet          WalletRepository
	CoinTransaction CoinTransactionRepository
	AdSession       AdSessionRepository
	AdCompletion    AdCompletionRepository
}

// NewRepositories creates all repository instances.
// Job writes publish change events on the given feed; a nil feed disables
// publication.
func NewRepositories(db *sql.DB, feed *store.Feed) *Repositories {
	return &Repositories{
		Job:             NewSQLiteJobRepository(db, feed),
		Deployment:      NewSQLiteDeploymentRepository(db),
		Wallet:          NewSQLiteWalletRepository(db),
		CoinTransaction: NewSQLiteCoinTransactionRepository(db),
		AdSession:       NewSQLiteAdSessionRepository(db),
		AdCompletion:    NewSQLiteAdCompletionRepository(db),
	}
}
