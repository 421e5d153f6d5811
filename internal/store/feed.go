// Package store provides the realtime change-feed over the jobs table.
// Repositories publish a ChangeEvent after every committed job write; the
// fan-out hub and the dispatcher hold the subscriptions.
package store

import (
	"log/slog"
	"sync"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

// EventType identifies the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// ChangeEvent carries the full new row for a job change.
type ChangeEvent struct {
	Event EventType
	Job   *models.Job
}

// Feed is an in-process change feed with non-blocking delivery.
// Publish never blocks: a subscriber whose buffer is full misses the event,
// so subscribers size their buffers for their consumption rate.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan ChangeEvent
	nextID int
	closed bool
	logger *slog.Logger
}

// NewFeed creates a new change feed.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subs:   make(map[int]chan ChangeEvent),
		logger: logger,
	}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned cancel func is idempotent and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ChangeEvent, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to all subscribers without blocking.
func (f *Feed) Publish(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("change feed subscriber buffer full, event dropped",
				"subscriber", id,
				"event", ev.Event,
				"job_id", ev.Job.ID,
			)
		}
	}
}

// Close shuts down the feed and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
