package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

// jobColumns is the canonical column list for job queries.
const jobColumns = `id, user_id, job_type, status, prompt, model, aspect_ratio,
	negative_prompt, duration_seconds, image_url, thumbnail_url, video_url,
	progress, error_message, metadata_json, created_at, updated_at`

// SQLiteJobRepository implements JobRepository for SQLite/libsql.
type SQLiteJobRepository struct {
	db   *sql.DB
	feed *store.Feed
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB, feed *store.Feed) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db, feed: feed}
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, job_type, status, prompt, model, aspect_ratio,
			negative_prompt, duration_seconds, image_url, thumbnail_url, video_url,
			progress, error_message, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.Type,
		job.Status,
		job.Prompt,
		job.Model,
		job.AspectRatio,
		nullString(job.NegativePrompt),
		job.DurationSeconds,
		nullString(job.ImageURL),
		nullString(job.ThumbnailURL),
		nullString(job.VideoURL),
		job.Progress,
		nullString(job.ErrorMessage),
		marshalMetadata(job.Metadata),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	r.publish(store.EventInsert, job)
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *SQLiteJobRepository) GetByUserID(ctx context.Context, userID string, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteJobRepository) GetPending(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim atomically flips the given job from pending to running with
// progress 10. Exactly one caller wins; losers get nil.
func (r *SQLiteJobRepository) Claim(ctx context.Context, id string) (*models.Job, error) {
	now := formatTime(time.Now())
	query := `
		UPDATE jobs
		SET status = 'running', progress = 10, updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, now, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return job, nil
}

// ClaimNextPending atomically claims the oldest pending job.
// UPDATE ... RETURNING claims and fetches in one statement to reduce lock
// contention against concurrent claimers.
func (r *SQLiteJobRepository) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	now := formatTime(time.Now())
	query := `
		UPDATE jobs
		SET status = 'running', progress = 10, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, now))
	if err == sql.ErrNoRows {
		// No pending jobs - this is normal, not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim next pending job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return job, nil
}

func (r *SQLiteJobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, progress, formatTime(time.Now()), id))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return nil
}

func (r *SQLiteJobRepository) Complete(ctx context.Context, id, imageURL, thumbnailURL, videoURL string) error {
	query := `
		UPDATE jobs
		SET status = 'completed', progress = 100, image_url = ?, thumbnail_url = ?,
			video_url = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		nullString(imageURL),
		nullString(thumbnailURL),
		nullString(videoURL),
		formatTime(time.Now()),
		id,
	))
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return nil
}

func (r *SQLiteJobRepository) Fail(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE jobs SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ?
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, errorMessage, formatTime(time.Now()), id))
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return nil
}

// Requeue returns a running job to pending so a later worker pass retries
// it. The coins already deducted stay deducted; the job stays eligible.
func (r *SQLiteJobRepository) Requeue(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs SET status = 'pending', progress = 0, updated_at = ?
		WHERE id = ? AND status = 'running'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, formatTime(time.Now()), id))
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return true, nil
}

func (r *SQLiteJobRepository) Cancel(ctx context.Context, id, userID string) (bool, error) {
	query := `
		UPDATE jobs SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND user_id = ? AND status = 'pending'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, formatTime(time.Now()), id, userID))
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	r.publish(store.EventUpdate, job)
	return true, nil
}

func (r *SQLiteJobRepository) Stats(ctx context.Context, userID string) (*models.JobStats, error) {
	query := `SELECT status, COUNT(*) FROM jobs WHERE user_id = ? GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	stats := &models.JobStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch models.JobStatus(status) {
		case models.JobStatusPending:
			stats.Pending = count
		case models.JobStatusRunning:
			stats.Running = count
		case models.JobStatusCompleted:
			stats.Completed = count
		case models.JobStatusFailed:
			stats.Failed = count
		case models.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

func (r *SQLiteJobRepository) LatestInProgress(ctx context.Context, userID string, jobType models.JobType) (*models.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE user_id = ? AND job_type = ? AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1
	`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, userID, jobType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// RequeueStaleRunning returns running jobs older than maxAge to pending.
// Used at startup and by the periodic rescue pass so that jobs orphaned by
// a crash or a vanished endpoint become eligible again.
func (r *SQLiteJobRepository) RequeueStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-maxAge))
	now := formatTime(time.Now())

	query := `
		UPDATE jobs SET status = 'pending', progress = 0, updated_at = ?
		WHERE status = 'running' AND updated_at < ?
	`
	result, err := r.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale running jobs: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

// publish emits a change event when a feed is attached.
func (r *SQLiteJobRepository) publish(event store.EventType, job *models.Job) {
	if r.feed == nil || job == nil {
		return
	}
	r.feed.Publish(store.ChangeEvent{Event: event, Job: job})
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var negativePrompt, imageURL, thumbnailURL, videoURL sql.NullString
	var errorMessage, metadataJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Type,
		&job.Status,
		&job.Prompt,
		&job.Model,
		&job.AspectRatio,
		&negativePrompt,
		&job.DurationSeconds,
		&imageURL,
		&thumbnailURL,
		&videoURL,
		&job.Progress,
		&errorMessage,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.NegativePrompt = negativePrompt.String
	job.ImageURL = imageURL.String
	job.ThumbnailURL = thumbnailURL.String
	job.VideoURL = videoURL.String
	job.ErrorMessage = errorMessage.String
	job.Metadata = unmarshalMetadata(metadataJSON)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	return &job, nil
}
