package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelforge-ai/pixelforge-api/internal/inference"
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// maxPassthroughSize bounds how much of an upstream response the legacy
// passthrough relays back.
const maxPassthroughSize = 512 << 20

// EndpointHandler exposes the endpoint registry and the legacy inference
// passthrough routes older clients still call directly.
type EndpointHandler struct {
	endpoints  *service.EndpointService
	client     *inference.Client
	hostSuffix string
	logger     *slog.Logger
}

// NewEndpointHandler creates a new endpoint handler. hostSuffix identifies
// provider-hosted deployments, which expose their model list on a different
// path than self-hosted ones.
func NewEndpointHandler(endpoints *service.EndpointService, client *inference.Client, hostSuffix string, logger *slog.Logger) *EndpointHandler {
	return &EndpointHandler{
		endpoints:  endpoints,
		client:     client,
		hostSuffix: hostSuffix,
		logger:     logger,
	}
}

// GetURLInput represents endpoint lookup request.
type GetURLInput struct {
	JobType string `query:"job_type" enum:"image,video" default:"image" doc:"Job type to resolve an endpoint for"`
}

// GetURLOutput represents endpoint lookup response.
type GetURLOutput struct {
	Body struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		JobType string `json:"job_type"`
		Cached  bool   `json:"cached"`
		Source  string `json:"source"`
	}
}

// GetURL resolves the active inference URL for the job type.
func (h *EndpointHandler) GetURL(ctx context.Context, input *GetURLInput) (*GetURLOutput, error) {
	jobType := models.JobType(input.JobType)

	endpoint, err := h.endpoints.GetActive(ctx, jobType)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to resolve endpoint")
	}
	if endpoint == nil {
		return nil, huma.Error503ServiceUnavailable("no active deployment available")
	}

	out := &GetURLOutput{}
	out.Body.Success = true
	out.Body.URL = endpoint.URL
	out.Body.JobType = string(jobType)
	out.Body.Cached = endpoint.Cached
	out.Body.Source = "database"
	if endpoint.Cached {
		out.Body.Source = "cache"
	}
	return out, nil
}

// InvalidateCacheOutput represents cache invalidation response.
type InvalidateCacheOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}

// InvalidateCache clears the in-process URL cache so the next lookup
// re-reads the registry.
func (h *EndpointHandler) InvalidateCache(ctx context.Context, input *struct{}) (*InvalidateCacheOutput, error) {
	h.endpoints.Cache().Invalidate()
	h.logger.Info("endpoint URL cache invalidated")

	out := &InvalidateCacheOutput{}
	out.Body.Success = true
	out.Body.Message = "cache invalidated"
	return out, nil
}

// Generate relays a raw generation request to the active image endpoint.
// Raw handler: the response is whatever the upstream returns, bytes and all.
func (h *EndpointHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, models.JobTypeImage)
}

// GenerateVideo relays a raw generation request to the active video endpoint.
func (h *EndpointHandler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, models.JobTypeVideo)
}

func (h *EndpointHandler) passthrough(w http.ResponseWriter, r *http.Request, jobType models.JobType) {
	endpoint, err := h.endpoints.GetActive(r.Context(), jobType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve endpoint")
		return
	}
	if endpoint == nil {
		writeError(w, http.StatusServiceUnavailable, "no active deployment available")
		return
	}

	resp, err := h.client.Forward(r.Context(), endpoint.URL, r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.logger.Warn("passthrough request failed",
			"job_type", jobType,
			"deployment_id", endpoint.DeploymentID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to reach inference endpoint")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, io.LimitReader(resp.Body, maxPassthroughSize))
}

// ListModelsInput represents model enumeration request.
type ListModelsInput struct{}

// ListModelsOutput represents model enumeration response.
type ListModelsOutput struct {
	Body struct {
		Success bool     `json:"success"`
		Models  []string `json:"models"`
		Count   int      `json:"count"`
	}
}

// ListModels enumerates the models on the active image endpoint.
func (h *EndpointHandler) ListModels(ctx context.Context, input *ListModelsInput) (*ListModelsOutput, error) {
	return h.listModels(ctx, models.JobTypeImage)
}

// ListVideoModels enumerates the models on the active video endpoint.
func (h *EndpointHandler) ListVideoModels(ctx context.Context, input *ListModelsInput) (*ListModelsOutput, error) {
	return h.listModels(ctx, models.JobTypeVideo)
}

func (h *EndpointHandler) listModels(ctx context.Context, jobType models.JobType) (*ListModelsOutput, error) {
	endpoint, err := h.endpoints.GetActive(ctx, jobType)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to resolve endpoint")
	}
	if endpoint == nil {
		return nil, huma.Error503ServiceUnavailable("no active deployment available")
	}

	names, err := h.client.ListModels(ctx, h.modelsURL(endpoint.URL))
	if err != nil {
		h.logger.Warn("model list fetch failed",
			"job_type", jobType,
			"deployment_id", endpoint.DeploymentID,
			"error", err,
		)
		return nil, huma.Error503ServiceUnavailable("failed to fetch model list")
	}

	out := &ListModelsOutput{}
	out.Body.Success = true
	out.Body.Models = names
	out.Body.Count = len(names)
	return out, nil
}

// modelsURL picks the model list path for the deployment. Provider-hosted
// deployments expose /models; self-hosted ones expose /list-models.
func (h *EndpointHandler) modelsURL(endpointURL string) string {
	base := strings.TrimRight(endpointURL, "/")
	if h.hostSuffix != "" && strings.Contains(endpointURL, h.hostSuffix) {
		return base + "/models"
	}
	return base + "/list-models"
}
