package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// ErrorModel is the error body every endpoint returns.
type ErrorModel struct {
	Success     bool   `json:"success"`
	Reason      string `json:"error"`
	Message     string `json:"message,omitempty"`
	CoinsNeeded int64  `json:"coins_needed,omitempty"`

	status int
}

// Error implements the error interface.
func (e *ErrorModel) Error() string { return e.Reason }

// GetStatus implements huma.StatusError.
func (e *ErrorModel) GetStatus() int { return e.status }

// errorCode maps an HTTP status to the machine-readable error field.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPaymentRequired:
		return "insufficient_coins"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "no_endpoint_available"
	default:
		return "internal_error"
	}
}

// NewError builds the API error body. Installed as huma.NewError at startup
// so validation failures share the same shape.
func NewError(status int, message string, errs ...error) huma.StatusError {
	return &ErrorModel{
		Success: false,
		Reason:  errorCode(status),
		Message: message,
		status:  status,
	}
}

// insufficientCoins is the 402 body carrying the shortfall.
func insufficientCoins(coinsNeeded int64) huma.StatusError {
	return &ErrorModel{
		Success:     false,
		Reason:      "insufficient_coins",
		Message:     "not enough coins for this generation",
		CoinsNeeded: coinsNeeded,
		status:      http.StatusPaymentRequired,
	}
}

// dailyLimitReached is the 402 body for the daily ad cap.
func dailyLimitReached() huma.StatusError {
	return &ErrorModel{
		Success: false,
		Reason:  "daily_limit_reached",
		Message: "daily ad limit reached",
		status:  http.StatusPaymentRequired,
	}
}

// writeJSON writes a JSON response from a raw (non-huma) handler.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the standard error body from a raw handler.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &ErrorModel{
		Success: false,
		Reason:  errorCode(status),
		Message: message,
	})
}
