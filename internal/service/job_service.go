package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/media"
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

var (
	// ErrJobNotFound indicates no job for the id, or wrong owner.
	ErrJobNotFound = errors.New("job not found")

	// ErrEmptyPrompt indicates a submission without a usable prompt.
	ErrEmptyPrompt = errors.New("prompt is required")

	// ErrNotCancellable indicates the job already left the queue.
	ErrNotCancellable = errors.New("only pending jobs can be cancelled")
)

// maxPromptLength bounds submitted prompts.
const maxPromptLength = 2000

// inputUploader is the media store surface the job service needs for
// inline input images.
type inputUploader interface {
	UploadBytes(ctx context.Context, data []byte, name, folder string, metadata map[string]string) (*media.UploadResult, error)
}

// SubmitInput carries a job submission.
type SubmitInput struct {
	UserID          string
	Type            models.JobType
	Prompt          string
	Model           string
	AspectRatio     string
	NegativePrompt  string
	DurationSeconds int
	Metadata        map[string]any

	// InlineImage, when set, is uploaded to the media store and recorded
	// as metadata.input_image_url before the job is queued.
	InlineImage     []byte
	InlineImageName string
}

// SubmitResult is returned on a successful submission.
type SubmitResult struct {
	Job            *models.Job
	CoinsRemaining int64
}

// JobService handles job submission and lifecycle queries. Submission is
// paid: coins are deducted before the insert and refunded if the insert
// fails, so a stored job always has a matching ledger entry.
type JobService struct {
	repos   *repository.Repositories
	coins   *CoinService
	uploads inputUploader
	logger  *slog.Logger
}

// NewJobService creates a new job service. uploads may be nil when inline
// image submissions are disabled.
func NewJobService(repos *repository.Repositories, coins *CoinService, uploads inputUploader, logger *slog.Logger) *JobService {
	return &JobService{
		repos:   repos,
		coins:   coins,
		uploads: uploads,
		logger:  logger,
	}
}

// Submit validates, charges, and queues a generation job.
func (s *JobService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len(prompt) > maxPromptLength {
		prompt = prompt[:maxPromptLength]
	}

	jobType := input.Type
	if jobType == "" {
		jobType = models.JobTypeImage
	}

	metadata := make(map[string]any, len(input.Metadata)+1)
	for k, v := range input.Metadata {
		metadata[k] = v
	}

	if len(input.InlineImage) > 0 {
		if s.uploads == nil {
			return nil, fmt.Errorf("inline image uploads are not configured")
		}
		name := input.InlineImageName
		if name == "" {
			name = "input.png"
		}
		result, err := s.uploads.UploadBytes(ctx, input.InlineImage, name, "inputs", map[string]string{
			"user_id": input.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload input image: %w", err)
		}
		metadata["input_image_url"] = result.URL
	}

	now := time.Now()
	job := &models.Job{
		ID:              ulid.Make().String(),
		UserID:          input.UserID,
		Type:            jobType,
		Status:          models.JobStatusPending,
		Prompt:          prompt,
		Model:           input.Model,
		AspectRatio:     input.AspectRatio,
		NegativePrompt:  input.NegativePrompt,
		DurationSeconds: input.DurationSeconds,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	description := "Image generation"
	if jobType == models.JobTypeVideo {
		description = "Video generation"
	}
	wallet, err := s.coins.Deduct(ctx, input.UserID, GenerationCost, job.ID, description)
	if err != nil {
		return nil, err
	}

	if err := s.repos.Job.Create(ctx, job); err != nil {
		if refundErr := s.coins.Refund(ctx, input.UserID, GenerationCost, job.ID); refundErr != nil {
			s.logger.Error("failed to refund after job insert failure",
				"job_id", job.ID,
				"user_id", input.UserID,
				"error", refundErr,
			)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"user_id", input.UserID,
		"type", jobType,
		"model", input.Model,
	)
	return &SubmitResult{Job: job, CoinsRemaining: wallet.Balance}, nil
}

// Get returns the job if it belongs to the user.
func (s *JobService) Get(ctx context.Context, jobID, userID string) (*models.Job, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns the user's jobs, newest first, optionally filtered by status.
func (s *JobService) List(ctx context.Context, userID string, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Job.GetByUserID(ctx, userID, status, limit)
}

// Cancel cancels the user's job if it is still pending.
func (s *JobService) Cancel(ctx context.Context, jobID, userID string) error {
	job, err := s.Get(ctx, jobID, userID)
	if err != nil {
		return err
	}

	cancelled, err := s.repos.Job.Cancel(ctx, job.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if !cancelled {
		return ErrNotCancellable
	}

	s.logger.Info("job cancelled", "job_id", jobID, "user_id", userID)
	return nil
}

// Stats returns the user's job counts by status.
func (s *JobService) Stats(ctx context.Context, userID string) (*models.JobStats, error) {
	return s.repos.Job.Stats(ctx, userID)
}

// InProgress returns the user's most recent pending or running job of the
// given type, or nil when none is in flight.
func (s *JobService) InProgress(ctx context.Context, userID string, jobType models.JobType) (*models.Job, error) {
	return s.repos.Job.LatestInProgress(ctx, userID, jobType)
}
