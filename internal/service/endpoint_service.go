// Package service contains the application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
)

// coldStartMessage is the body text the inference provider returns while a
// stopped deployment is being replaced.
const coldStartMessage = "app for invoked web endpoint is stopped"

// ActiveEndpoint is a resolved inference endpoint for one job type.
type ActiveEndpoint struct {
	DeploymentID string
	URL          string
	Cached       bool
}

// URLCache is the process-wide cache of resolved endpoint URLs.
// Invalidation is idempotent; the next lookup re-reads the registry.
type URLCache struct {
	mu      sync.Mutex
	entries map[models.JobType]ActiveEndpoint
}

// NewURLCache creates an empty URL cache.
func NewURLCache() *URLCache {
	return &URLCache{entries: make(map[models.JobType]ActiveEndpoint)}
}

// Get returns the cached endpoint for the job type, if present.
func (c *URLCache) Get(jobType models.JobType) (ActiveEndpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[jobType]
	return e, ok
}

// Set stores the endpoint for the job type.
func (c *URLCache) Set(jobType models.JobType, e ActiveEndpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobType] = e
}

// Invalidate clears all cached entries.
func (c *URLCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// EndpointService is the endpoint registry: it resolves the active
// deployment per job type, retires unusable deployments, and promotes
// successors.
type EndpointService struct {
	repos      *repository.Repositories
	cache      *URLCache
	hostSuffix string
	logger     *slog.Logger
}

// NewEndpointService creates a new endpoint service.
func NewEndpointService(repos *repository.Repositories, cache *URLCache, hostSuffix string, logger *slog.Logger) *EndpointService {
	return &EndpointService{
		repos:      repos,
		cache:      cache,
		hostSuffix: hostSuffix,
		logger:     logger,
	}
}

// Cache returns the URL cache held by the service.
func (s *EndpointService) Cache() *URLCache {
	return s.cache
}

// GetActive returns the active endpoint for the job type, consulting the
// cache first. Returns nil when no deployment is available.
func (s *EndpointService) GetActive(ctx context.Context, jobType models.JobType) (*ActiveEndpoint, error) {
	if e, ok := s.cache.Get(jobType); ok {
		e.Cached = true
		return &e, nil
	}

	d, err := s.repos.Deployment.GetActive(ctx, jobType)
	if err != nil {
		return nil, fmt.Errorf("failed to get active deployment: %w", err)
	}
	if d == nil {
		return nil, nil
	}

	e := ActiveEndpoint{DeploymentID: d.ID, URL: d.URLFor(jobType)}
	s.cache.Set(jobType, e)
	return &e, nil
}

// MarkInactive retires the deployment and invalidates the URL cache so the
// next lookup re-reads the registry.
func (s *EndpointService) MarkInactive(ctx context.Context, deploymentID, reason string) (bool, error) {
	flipped, err := s.repos.Deployment.MarkInactive(ctx, deploymentID, reason)
	if err != nil {
		return false, err
	}
	s.cache.Invalidate()
	if flipped {
		s.logger.Warn("deployment marked inactive",
			"deployment_id", deploymentID,
			"reason", reason,
		)
	}
	return flipped, nil
}

// PromoteNext activates the next usable deployment for the job type.
// Returns nil when the pool is exhausted.
func (s *EndpointService) PromoteNext(ctx context.Context, jobType models.JobType) (*models.Deployment, error) {
	d, err := s.repos.Deployment.PromoteNext(ctx, jobType)
	if err != nil {
		return nil, err
	}
	if d != nil {
		s.logger.Info("deployment promoted",
			"deployment_id", d.ID,
			"deployment_number", d.Number,
		)
	}
	return d, nil
}

// RotateAfterFailure is the terminal-failure path: retire the current
// deployment, drop the cache, promote a successor. The affected job is left
// untouched by this call.
func (s *EndpointService) RotateAfterFailure(ctx context.Context, deploymentID, reason string, jobType models.JobType) (*models.Deployment, error) {
	if _, err := s.MarkInactive(ctx, deploymentID, reason); err != nil {
		return nil, err
	}
	return s.PromoteNext(ctx, jobType)
}

// IsFailureTerminal reports whether an upstream failure means the
// deployment itself is unusable (as opposed to a transient hiccup).
// statusCode is 0 when the failure never produced an HTTP response.
func (s *EndpointService) IsFailureTerminal(statusCode int, errText string) bool {
	if statusCode == 402 || statusCode == 429 || statusCode >= 500 {
		return true
	}

	lower := strings.ToLower(errText)
	if strings.Contains(lower, coldStartMessage) {
		return true
	}
	for _, pattern := range []string{"rate limit", "quota", "limit reached", "exceeded"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	// DNS or TLS transport failures against the known provider host mean
	// the deployment is gone, not flaky.
	if s.hostSuffix != "" && strings.Contains(lower, strings.ToLower(s.hostSuffix)) {
		for _, pattern := range []string{"no such host", "tls", "certificate"} {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}

	return false
}

// IsColdStart reports whether the failure looks like a stopped deployment
// that is being replaced, which is worth a longer retry wait.
func IsColdStart(statusCode int, errText string) bool {
	if statusCode == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(errText), coldStartMessage)
}
