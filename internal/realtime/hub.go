// Package realtime fans job change events out to per-job subscribers, backing
// the SSE streaming endpoints.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/pixelforge-ai/pixelforge-api/internal/store"
)

// sinkBuffer is the per-subscriber channel capacity. A subscriber that falls
// this far behind is disconnected; SSE clients recover by reconnecting and
// re-fetching the job.
const sinkBuffer = 16

// sink is one subscriber channel. close is safe from both the routing loop
// and the subscriber's cancel.
type sink struct {
	ch   chan store.ChangeEvent
	once sync.Once
}

func (s *sink) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub consumes the store change feed and routes each event to the
// subscribers of that job.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*sink]struct{}
	cancel func()
	done   chan struct{}
	logger *slog.Logger
}

// NewHub creates a hub reading from the feed. Call Stop to release the feed
// subscription.
func NewHub(feed *store.Feed, logger *slog.Logger) *Hub {
	events, cancel := feed.Subscribe(256)
	h := &Hub{
		subs:   make(map[string]map[*sink]struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run(events)
	return h
}

// Subscribe registers a sink for one job's events. The returned cancel
// removes the sink and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan store.ChangeEvent, func()) {
	s := &sink{ch: make(chan store.ChangeEvent, sinkBuffer)}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*sink]struct{})
		h.subs[jobID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.remove(jobID, s)
		s.close()
	}
	return s.ch, cancel
}

// Stop detaches the hub from the feed and waits for the routing loop.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) run(events <-chan store.ChangeEvent) {
	defer close(h.done)
	for ev := range events {
		if ev.Job == nil {
			continue
		}
		h.dispatch(ev)
	}
}

// dispatch enqueues the event on every sink for the job without blocking.
// A sink with a full queue is dropped entirely rather than handed a stream
// with holes in it; the closed channel tells the subscriber to reconnect.
func (h *Hub) dispatch(ev store.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.Job.ID]
	for s := range set {
		select {
		case s.ch <- ev:
		default:
			delete(set, s)
			s.close()
			h.logger.Warn("disconnecting slow subscriber",
				"job_id", ev.Job.ID,
				"event", ev.Event,
			)
		}
	}
	if len(set) == 0 {
		delete(h.subs, ev.Job.ID)
	}
}

// remove detaches a sink from the job's subscriber set.
func (h *Hub) remove(jobID string, s *sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[jobID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
	}
}
