// Package publisher fans finished task events out to NATS.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/taskqueue"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// TaskEvent is the payload of one finished task.
type TaskEvent struct {
	Key         string    `json:"key"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

const defaultBuffer = 256

// NATSPublisher publishes terminal task records. Observe never blocks the
// queue: events beyond the buffer are dropped and counted.
type NATSPublisher struct {
	js      NATSClient
	subject string
	log     *logger.Logger

	events chan TaskEvent

	mu      sync.Mutex
	dropped int
}

// NewNATSPublisher creates a new publisher. Events go to <subject>.<kind>.<status>.
func NewNATSPublisher(client NATSClient, subject string, log *logger.Logger) *NATSPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &NATSPublisher{
		js:      client,
		subject: subject,
		log:     log,
		events:  make(chan TaskEvent, defaultBuffer),
	}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev TaskEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, ev.Kind, ev.Status)
}

// Observe is a taskqueue.Observer.
func (p *NATSPublisher) Observe(rec taskqueue.Record) {
	if !rec.Status.Terminal() {
		return
	}
	ev := TaskEvent{
		Key:         rec.Key,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Error:       rec.Err,
		FinishedAt:  rec.UpdatedAt,
	}
	select {
	case p.events <- ev:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.log.Warn().Str("key", rec.Key).Msg("publisher: buffer full, event dropped")
	}
}

// Dropped counts events lost to a full buffer.
func (p *NATSPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run publishes buffered events until ctx ends.
func (p *NATSPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			if err := p.PublishTaskEvent(ctx, ev); err != nil {
				p.log.Warn().Err(err).Str("key", ev.Key).Msg("publisher: publish failed")
			}
		}
	}
}

// PublishTaskEvent publishes one event synchronously.
func (p *NATSPublisher) PublishTaskEvent(ctx context.Context, ev TaskEvent) error {
	if err := p.js.Publish(ctx, p.Subject(ev), ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
