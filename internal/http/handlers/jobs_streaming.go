package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixelforge-ai/pixelforge-api/internal/http/mw"
	"github.com/pixelforge-ai/pixelforge-api/internal/realtime"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
)

// keepaliveInterval is how often the stream emits an SSE comment to keep
// proxies from closing an idle connection.
const keepaliveInterval = 30 * time.Second

// StreamHandler serves the per-job SSE stream.
type StreamHandler struct {
	jobSvc    *service.JobService
	hub       *realtime.Hub
	keepalive time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(jobSvc *service.JobService, hub *realtime.Hub) *StreamHandler {
	return &StreamHandler{jobSvc: jobSvc, hub: hub, keepalive: keepaliveInterval}
}

// StreamJob streams job updates via SSE until the job reaches a terminal
// state or the client disconnects. This is a raw HTTP handler (not huma)
// to support SSE.
func (h *StreamHandler) StreamJob(w http.ResponseWriter, r *http.Request) {
	claims := mw.GetUserClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	// Subscribe before the snapshot read so no update falls in the gap
	events, cancel := h.hub.Subscribe(jobID)
	defer cancel()

	job, err := h.jobSvc.Get(r.Context(), jobID, claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server write timeout; drop the deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sendSSEData(w, flusher, map[string]any{
		"type":   "connected",
		"job_id": job.ID,
	})
	sendSSEData(w, flusher, map[string]any{
		"type":  "update",
		"event": "SNAPSHOT",
		"job":   job,
	})
	if job.Status.IsTerminal() {
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			sendSSEKeepalive(w, flusher)
		case ev, open := <-events:
			if !open {
				return
			}
			sendSSEData(w, flusher, map[string]any{
				"type":  "update",
				"event": string(ev.Event),
				"job":   ev.Job,
			})
			if ev.Job.Status.IsTerminal() {
				return
			}
			// A data frame keeps the connection alive on its own; restart
			// the keepalive clock from it
			keepalive.Reset(h.keepalive)
		}
	}
}

// sendSSEData sends one data-only SSE frame.
func sendSSEData(w http.ResponseWriter, flusher http.Flusher, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

// sendSSEKeepalive sends an SSE comment the client EventSource ignores.
func sendSSEKeepalive(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprint(w, ": keepalive\n\n")
	flusher.Flush()
}
