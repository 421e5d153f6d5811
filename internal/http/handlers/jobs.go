package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// maxInlineImageSize bounds the uploaded input image on multipart submits.
const maxInlineImageSize = 32 << 20

// JobHandler handles job endpoints.
type JobHandler struct {
	jobSvc   *service.JobService
	coinsSvc *service.CoinService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobSvc *service.JobService, coinsSvc *service.CoinService) *JobHandler {
	return &JobHandler{jobSvc: jobSvc, coinsSvc: coinsSvc}
}

// submitFields are the client-supplied job fields, shared by the JSON and
// multipart submission paths.
type submitFields struct {
	Prompt          string         `json:"prompt"`
	Model           string         `json:"model"`
	JobType         string         `json:"job_type"`
	AspectRatio     string         `json:"aspect_ratio"`
	NegativePrompt  string         `json:"negative_prompt"`
	DurationSeconds int            `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata"`
}

// SubmitJob accepts a job submission as JSON or as a multipart form with an
// optional inline input image. Raw handler: huma cannot switch decoders on
// the request content type.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var fields submitFields
	var inlineImage []byte
	var inlineImageName string

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxInlineImageSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		fields.Prompt = r.FormValue("prompt")
		fields.Model = r.FormValue("model")
		fields.JobType = r.FormValue("job_type")
		fields.AspectRatio = r.FormValue("aspect_ratio")
		fields.NegativePrompt = r.FormValue("negative_prompt")
		if v := r.FormValue("duration_seconds"); v != "" {
			fields.DurationSeconds, _ = strconv.Atoi(v)
		}
		if v := r.FormValue("metadata"); v != "" {
			_ = json.Unmarshal([]byte(v), &fields.Metadata)
		}

		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, maxInlineImageSize))
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read image")
				return
			}
			inlineImage = data
			inlineImageName = header.Filename
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.jobSvc.Submit(r.Context(), service.SubmitInput{
		UserID:          userID,
		Type:            models.JobType(fields.JobType),
		Prompt:          fields.Prompt,
		Model:           fields.Model,
		AspectRatio:     fields.AspectRatio,
		NegativePrompt:  fields.NegativePrompt,
		DurationSeconds: fields.DurationSeconds,
		Metadata:        fields.Metadata,
		InlineImage:     inlineImage,
		InlineImageName: inlineImageName,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, "prompt is required")
		case errors.Is(err, service.ErrInsufficientCoins):
			// coins_needed is the shortfall, not the full price
			needed := int64(service.GenerationCost)
			if balance, berr := h.coinsSvc.Balance(r.Context(), userID); berr == nil {
				needed = service.GenerationCost - balance
			}
			writeJSON(w, http.StatusPaymentRequired, insufficientCoins(needed))
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"job":             result.Job,
		"coins_remaining": result.CoinsRemaining,
	})
}

// ListJobsInput represents job list request.
type ListJobsInput struct {
	Status string `query:"status" enum:"pending,running,completed,failed,cancelled" required:"false" doc:"Filter by job status"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Maximum jobs to return"`
}

// ListJobsOutput represents job list response.
type ListJobsOutput struct {
	Body struct {
		Success bool          `json:"success"`
		Jobs    []*models.Job `json:"jobs"`
		Count   int           `json:"count"`
	}
}

// ListJobs returns the user's jobs, newest first.
func (h *JobHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	jobs, err := h.jobSvc.List(ctx, userID, models.JobStatus(input.Status), input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs")
	}

	out := &ListJobsOutput{}
	out.Body.Success = true
	out.Body.Jobs = jobs
	out.Body.Count = len(jobs)
	return out, nil
}

// GetJobInput represents job fetch request.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput represents job fetch response.
type GetJobOutput struct {
	Body struct {
		Success bool        `json:"success"`
		Job     *models.Job `json:"job"`
	}
}

// GetJob returns one of the user's jobs.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := h.jobSvc.Get(ctx, input.ID, userID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to get job")
	}

	out := &GetJobOutput{}
	out.Body.Success = true
	out.Body.Job = job
	return out, nil
}

// CancelJobOutput represents job cancel response.
type CancelJobOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}

// CancelJob cancels a pending job.
func (h *JobHandler) CancelJob(ctx context.Context, input *GetJobInput) (*CancelJobOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	if err := h.jobSvc.Cancel(ctx, input.ID, userID); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.Is(err, service.ErrNotCancellable):
			return nil, huma.Error400BadRequest("only pending jobs can be cancelled")
		default:
			return nil, huma.Error500InternalServerError("failed to cancel job")
		}
	}

	out := &CancelJobOutput{}
	out.Body.Success = true
	out.Body.Message = "job cancelled"
	return out, nil
}

// JobStatsOutput represents job stats response.
type JobStatsOutput struct {
	Body struct {
		Success bool             `json:"success"`
		Stats   *models.JobStats `json:"stats"`
	}
}

// JobStats returns the user's job counts by status.
func (h *JobHandler) JobStats(ctx context.Context, input *struct{}) (*JobStatsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	stats, err := h.jobSvc.Stats(ctx, userID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stats")
	}

	out := &JobStatsOutput{}
	out.Body.Success = true
	out.Body.Stats = stats
	return out, nil
}

// InProgressInput represents the in-progress lookup request.
type InProgressInput struct {
	JobType string `query:"job_type" enum:"image,video" default:"image" doc:"Job type to look up"`
}

// InProgressOutput represents the in-progress lookup response.
type InProgressOutput struct {
	Body struct {
		Success bool        `json:"success"`
		Job     *models.Job `json:"job"`
	}
}

// InProgress returns the user's most recent pending or running job of the
// given type. Job is null when nothing is in flight; clients use this to
// resume progress screens after a reload.
func (h *JobHandler) InProgress(ctx context.Context, input *InProgressInput) (*InProgressOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := h.jobSvc.InProgress(ctx, userID, models.JobType(input.JobType))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up jobs")
	}

	out := &InProgressOutput{}
	out.Body.Success = true
	out.Body.Job = job
	return out, nil
}
