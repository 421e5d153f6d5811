package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/media"
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// maxWorkerUploadSize bounds artifact uploads from external workers.
const maxWorkerUploadSize = 512 << 20

// WorkerHandler serves the external worker API. The in-process dispatcher
// covers normal operation; these routes let a detached worker drain the
// queue, guarded by the shared worker token.
type WorkerHandler struct {
	repos    *repository.Repositories
	coinsSvc *service.CoinService
	media    *media.Rotator
	logger   *slog.Logger
}

// NewWorkerHandler creates a new worker handler.
func NewWorkerHandler(repos *repository.Repositories, coinsSvc *service.CoinService, rotator *media.Rotator, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{
		repos:    repos,
		coinsSvc: coinsSvc,
		media:    rotator,
		logger:   logger,
	}
}

// NextJobOutput represents the claim-next response. Job is null when the
// queue is empty.
type NextJobOutput struct {
	Body struct {
		Success bool        `json:"success"`
		Job     *models.Job `json:"job"`
	}
}

// NextJob atomically claims the oldest pending job for the caller.
func (h *WorkerHandler) NextJob(ctx context.Context, input *struct{}) (*NextJobOutput, error) {
	job, err := h.repos.Job.ClaimNextPending(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to claim job")
	}

	out := &NextJobOutput{}
	out.Body.Success = true
	out.Body.Job = job
	return out, nil
}

// PendingJobsOutput represents the pending queue listing.
type PendingJobsOutput struct {
	Body struct {
		Success bool          `json:"success"`
		Jobs    []*models.Job `json:"jobs"`
		Count   int           `json:"count"`
	}
}

// PendingJobs lists the pending queue without claiming anything.
func (h *WorkerHandler) PendingJobs(ctx context.Context, input *struct{}) (*PendingJobsOutput, error) {
	jobs, err := h.repos.Job.GetPending(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list pending jobs")
	}

	out := &PendingJobsOutput{}
	out.Body.Success = true
	out.Body.Jobs = jobs
	out.Body.Count = len(jobs)
	return out, nil
}

// ProgressInput represents a worker progress report.
type ProgressInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		Progress int    `json:"progress" minimum:"0" maximum:"100" doc:"Completion percentage"`
		Message  string `json:"message,omitempty" doc:"Optional progress message"`
	}
}

// AckOutput is the generic worker acknowledgement.
type AckOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// ReportProgress records a progress update for a running job.
func (h *WorkerHandler) ReportProgress(ctx context.Context, input *ProgressInput) (*AckOutput, error) {
	job, err := h.repos.Job.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	if err := h.repos.Job.UpdateProgress(ctx, input.ID, input.Body.Progress); err != nil {
		return nil, huma.Error500InternalServerError("failed to update progress")
	}

	out := &AckOutput{}
	out.Body.Success = true
	return out, nil
}

// CompleteInput represents a worker completion report.
type CompleteInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		ImageURL     string `json:"image_url,omitempty"`
		ThumbnailURL string `json:"thumbnail_url,omitempty"`
		VideoURL     string `json:"video_url,omitempty"`
	}
}

// CompleteJob marks the job completed with its artifact URLs.
func (h *WorkerHandler) CompleteJob(ctx context.Context, input *CompleteInput) (*AckOutput, error) {
	job, err := h.repos.Job.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	imageURL := input.Body.ImageURL
	videoURL := input.Body.VideoURL
	if job.Type == models.JobTypeVideo && imageURL == "" {
		// Older clients read image_url regardless of job type.
		imageURL = videoURL
	}

	if err := h.repos.Job.Complete(ctx, input.ID, imageURL, input.Body.ThumbnailURL, videoURL); err != nil {
		return nil, huma.Error500InternalServerError("failed to complete job")
	}

	h.logger.Info("job completed by external worker", "job_id", input.ID)

	out := &AckOutput{}
	out.Body.Success = true
	return out, nil
}

// FailInput represents a worker failure report.
type FailInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		Error string `json:"error" minLength:"1" doc:"Failure description"`
	}
}

// FailJob marks the job failed and refunds the generation cost. An explicit
// failure report means the job itself is bad, not the infrastructure.
func (h *WorkerHandler) FailJob(ctx context.Context, input *FailInput) (*AckOutput, error) {
	job, err := h.repos.Job.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	if err := h.repos.Job.Fail(ctx, input.ID, input.Body.Error); err != nil {
		return nil, huma.Error500InternalServerError("failed to fail job")
	}

	if err := h.coinsSvc.Refund(ctx, job.UserID, service.GenerationCost, job.ID); err != nil {
		h.logger.Error("failed to refund coins for failed job",
			"job_id", job.ID,
			"user_id", job.UserID,
			"error", err,
		)
	}

	h.logger.Warn("job failed by external worker",
		"job_id", input.ID,
		"error", input.Body.Error,
	)

	out := &AckOutput{}
	out.Body.Success = true
	return out, nil
}

// UploadArtifact accepts a multipart artifact upload from a worker and
// stores it through the media rotation pool. Raw handler for the multipart
// body.
func (h *WorkerHandler) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxWorkerUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxWorkerUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	folder := r.FormValue("folder")
	if folder == "" {
		folder = "generations"
	}
	name := filepath.Base(header.Filename)

	result, err := h.media.UploadBytes(r.Context(), data, name, folder, map[string]string{
		"uploaded_by": "worker",
	})
	if err != nil {
		h.logger.Error("worker upload failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store artifact")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"url":     result.URL,
	})
}
