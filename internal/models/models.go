// Package models contains domain models for the API.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the status of a generation job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType represents the type of generation job.
type JobType string

const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
)

// Job represents a generation job.
type Job struct {
	ID              string         `json:"job_id"`
	UserID          string         `json:"user_id"`
	Type            JobType        `json:"job_type"`
	Status          JobStatus      `json:"status"`
	Prompt          string         `json:"prompt"`
	Model           string         `json:"model"`
	AspectRatio     string         `json:"aspect_ratio"`
	NegativePrompt  string         `json:"negative_prompt,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	VideoURL        string         `json:"video_url,omitempty"`
	Progress        int            `json:"progress"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// InputImageURL returns the input image URL from metadata, if any.
func (j *Job) InputImageURL() string {
	if j.Metadata == nil {
		return ""
	}
	if url, ok := j.Metadata["input_image_url"].(string); ok {
		return url
	}
	return ""
}

// OutputURL returns the primary artifact URL for the job's type.
func (j *Job) OutputURL() string {
	if j.Type == JobTypeVideo && j.VideoURL != "" {
		return j.VideoURL
	}
	return j.ImageURL
}

// Deployment represents an inference deployment in the endpoint registry.
type Deployment struct {
	ID            string     `json:"deployment_id"`
	Number        int        `json:"deployment_number"`
	ImageURL      string     `json:"image_url,omitempty"`
	VideoURL      string     `json:"video_url,omitempty"`
	IsActive      bool       `json:"is_active"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// URLFor returns the deployment URL for the given job type.
func (d *Deployment) URLFor(jobType JobType) string {
	if jobType == JobTypeVideo {
		return d.VideoURL
	}
	return d.ImageURL
}

// Wallet represents a user's coin balance.
// Invariant: Balance = LifetimeEarned - LifetimeSpent, modulo admin
// adjustments recorded as explicit transactions.
type Wallet struct {
	UserID         string    `json:"user_id"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
	LastUpdated    time.Time `json:"last_updated"`
}

// TransactionType represents the type of a coin transaction.
type TransactionType string

const (
	TxTypeGenerationUsed TransactionType = "generation_used"
	TxTypeAdWatched      TransactionType = "ad_watched"
	TxTypeAdminBonus     TransactionType = "admin_bonus"
	TxTypeRefund         TransactionType = "refund"
	TxTypeInitialBonus   TransactionType = "initial_bonus"
)

// CoinTransaction is an append-only ledger entry.
type CoinTransaction struct {
	ID           string          `json:"transaction_id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	CoinsDelta   int64           `json:"coins_delta"`
	BalanceAfter int64           `json:"balance_after"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AdSessionStatus represents the status of an ad session.
type AdSessionStatus string

const (
	AdSessionPending   AdSessionStatus = "pending"
	AdSessionCompleted AdSessionStatus = "completed"
	AdSessionFailed    AdSessionStatus = "failed"
)

// AdSession tracks a single externally-served ad view.
// Verified is set only by the postback receiver; Status=completed is set
// only by the claim path and only when Verified is true.
type AdSession struct {
	ID          string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	ClickID     string          `json:"click_id"`
	ZoneID      string          `json:"zone_id"`
	AdType      string          `json:"ad_type"`
	Status      AdSessionStatus `json:"status"`
	Verified    bool            `json:"verified"`
	Revenue     decimal.Decimal `json:"revenue"`
	IP          string          `json:"ip,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	PostbackAt  *time.Time      `json:"postback_timestamp,omitempty"`
}

// AdCompletion is the audit row written at claim time.
type AdCompletion struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	ClickID       string    `json:"click_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Coins         int64     `json:"coins"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobStats holds per-status job counts for a user.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
