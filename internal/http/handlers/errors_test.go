package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, "invalid_request"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusPaymentRequired, "insufficient_coins"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "conflict"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusServiceUnavailable, "no_endpoint_available"},
		{http.StatusInternalServerError, "internal_error"},
		{http.StatusBadGateway, "internal_error"},
	}

	for _, tt := range tests {
		if got := errorCode(tt.status); got != tt.want {
			t.Errorf("errorCode(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestNewError(t *testing.T) {
	err := NewError(http.StatusNotFound, "job not found")

	if err.GetStatus() != http.StatusNotFound {
		t.Errorf("GetStatus() = %d, want 404", err.GetStatus())
	}

	model, ok := err.(*ErrorModel)
	if !ok {
		t.Fatalf("NewError returned %T, want *ErrorModel", err)
	}
	if model.Success {
		t.Error("expected success=false")
	}
	if model.Reason != "not_found" {
		t.Errorf("Reason = %q, want not_found", model.Reason)
	}
	if model.Message != "job not found" {
		t.Errorf("Message = %q", model.Message)
	}
}

func TestInsufficientCoins(t *testing.T) {
	err := insufficientCoins(5)

	if err.GetStatus() != http.StatusPaymentRequired {
		t.Errorf("GetStatus() = %d, want 402", err.GetStatus())
	}

	model := err.(*ErrorModel)
	if model.CoinsNeeded != 5 {
		t.Errorf("CoinsNeeded = %d, want 5", model.CoinsNeeded)
	}
	if model.Reason != "insufficient_coins" {
		t.Errorf("Reason = %q", model.Reason)
	}
}

func TestWriteError_Body(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusServiceUnavailable, "no active deployment available")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Success {
		t.Error("expected success=false")
	}
	if body.Error != "no_endpoint_available" {
		t.Errorf("error = %q", body.Error)
	}
	if body.Message != "no active deployment available" {
		t.Errorf("message = %q", body.Message)
	}
}
