package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

const deploymentColumns = `id, deployment_number, image_url, video_url, is_active,
	reason, created_at, deactivated_at`

// SQLiteDeploymentRepository implements DeploymentRepository for SQLite/libsql.
type SQLiteDeploymentRepository struct {
	db *sql.DB
}

// NewSQLiteDeploymentRepository creates a new SQLite deployment repository.
func NewSQLiteDeploymentRepository(db *sql.DB) *SQLiteDeploymentRepository {
	return &SQLiteDeploymentRepository{db: db}
}

func (r *SQLiteDeploymentRepository) Create(ctx context.Context, d *models.Deployment) error {
	query := `
		INSERT INTO modal_deployments (id, deployment_number, image_url, video_url,
			is_active, reason, created_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.Number,
		nullString(d.ImageURL),
		nullString(d.VideoURL),
		d.IsActive,
		nullString(d.Reason),
		formatTime(d.CreatedAt),
		nullTime(d.DeactivatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

func (r *SQLiteDeploymentRepository) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM modal_deployments WHERE id = ?`
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// GetActive returns the active deployment with a non-empty URL for the job
// type. Should the single-active invariant ever be violated, the highest
// deployment_number wins.
func (r *SQLiteDeploymentRepository) GetActive(ctx context.Context, jobType models.JobType) (*models.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + ` FROM modal_deployments
		WHERE is_active = 1 AND ` + urlColumn(jobType) + ` IS NOT NULL AND ` + urlColumn(jobType) + ` != ''
		ORDER BY deployment_number DESC
		LIMIT 1
	`
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// MarkInactive performs the single conditional flip guarded by is_active.
// Returns false when the deployment was already inactive.
func (r *SQLiteDeploymentRepository) MarkInactive(ctx context.Context, id, reason string) (bool, error) {
	now := formatTime(time.Now())
	query := `
		UPDATE modal_deployments
		SET is_active = 0, deactivated_at = ?, reason = ?
		WHERE id = ? AND is_active = 1
	`
	result, err := r.db.ExecContext(ctx, query, now, nullString(reason), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark deployment inactive: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// PromoteNext activates the next never-deactivated deployment with a URL
// for the job type, lowest deployment_number first. Deactivated rows are
// audit records and are never re-activated.
func (r *SQLiteDeploymentRepository) PromoteNext(ctx context.Context, jobType models.JobType) (*models.Deployment, error) {
	query := `
		UPDATE modal_deployments
		SET is_active = 1
		WHERE id = (
			SELECT id FROM modal_deployments
			WHERE is_active = 0 AND deactivated_at IS NULL
				AND ` + urlColumn(jobType) + ` IS NOT NULL AND ` + urlColumn(jobType) + ` != ''
			ORDER BY deployment_number ASC
			LIMIT 1
		)
		RETURNING ` + deploymentColumns

	d, err := scanDeployment(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to promote deployment: %w", err)
	}
	return d, nil
}

func urlColumn(jobType models.JobType) string {
	if jobType == models.JobTypeVideo {
		return "video_url"
	}
	return "image_url"
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	var d models.Deployment
	var imageURL, videoURL, reason, deactivatedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&d.ID,
		&d.Number,
		&imageURL,
		&videoURL,
		&d.IsActive,
		&reason,
		&createdAt,
		&deactivatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	d.ImageURL = imageURL.String
	d.VideoURL = videoURL.String
	d.Reason = reason.String
	d.CreatedAt = parseTime(createdAt)
	d.DeactivatedAt = parseTimePtr(deactivatedAt)

	return &d, nil
}
