package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// PostbackHandler receives the ad network's server-to-server notifications.
// The route is unauthenticated; the payload signature is the credential.
type PostbackHandler struct {
	adsSvc *service.AdService
	logger *slog.Logger
}

// NewPostbackHandler creates a new postback handler.
func NewPostbackHandler(adsSvc *service.AdService, logger *slog.Logger) *PostbackHandler {
	return &PostbackHandler{adsSvc: adsSvc, logger: logger}
}

// postbackFields tolerates both the JSON and the form field spellings the
// network uses.
type postbackFields struct {
	ClickID   string `json:"click_id"`
	ZoneID    string `json:"zone_id"`
	Revenue   string `json:"revenue"`
	Status    string `json:"status"`
	Signature string `json:"signature"`
}

// HandlePostback accepts the notification as JSON or a form post. Raw
// handler: the network sends either encoding.
func (h *PostbackHandler) HandlePostback(w http.ResponseWriter, r *http.Request) {
	var fields postbackFields

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		fields.ClickID = formValue(r, "click_id", "clickid")
		fields.ZoneID = formValue(r, "zone_id", "zoneid")
		fields.Revenue = formValue(r, "revenue", "payout")
		fields.Status = formValue(r, "status")
		fields.Signature = formValue(r, "signature", "sig")
	}

	if fields.ClickID == "" {
		writeError(w, http.StatusBadRequest, "missing click_id")
		return
	}

	revenue := decimal.Zero
	if fields.Revenue != "" {
		parsed, err := decimal.NewFromString(fields.Revenue)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid revenue")
			return
		}
		revenue = parsed
	}

	err := h.adsSvc.HandlePostback(r.Context(), service.Postback{
		ClickID:   fields.ClickID,
		ZoneID:    fields.ZoneID,
		Revenue:   revenue,
		Status:    fields.Status,
		Signature: fields.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadSignature):
			writeError(w, http.StatusForbidden, "invalid signature")
		case errors.Is(err, service.ErrUnknownZone):
			writeError(w, http.StatusForbidden, "unknown zone")
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "unknown click_id")
		default:
			h.logger.Error("postback processing failed", "click_id", fields.ClickID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to process postback")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// formValue returns the first non-empty form value among the given keys.
func formValue(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := r.FormValue(key); v != "" {
			return v
		}
	}
	return ""
}
