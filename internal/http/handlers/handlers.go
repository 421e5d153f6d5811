// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"

	"github.com/pixelforge-ai/pixelforge-api/internal/http/mw"
	"github.com/pixelforge-ai/pixelforge-api/internal/version"
)

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Version
	return out, nil
}

// getUserID extracts user ID from context.
func getUserID(ctx context.Context) string {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.UserID
}
