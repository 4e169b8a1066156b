// Package listen keeps the listen-download and listen-forward subscriptions
// and routes new messages from subscribed chats to the transfer pipelines.
package listen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// Mode is the subscription kind.
type Mode string

const (
	ModeDownload Mode = "listen_download"
	ModeForward  Mode = "listen_forward"
)

// TextKind enables plain text messages in the forward type filter.
const TextKind telegram.MediaKind = "text"

var (
	ErrAlreadyListening = errors.New("chat is already being listened to")
	ErrModeConflict     = errors.New("chat is subscribed in the other listen mode")
	ErrMissingTarget    = errors.New("listen_forward needs a target chat")
)

// Subscription is one listened chat.
type Subscription struct {
	Source     int64     `json:"source"`
	Mode       Mode      `json:"mode"`
	Target     int64     `json:"target,omitempty"`
	SourceLink string    `json:"source_link"`
	TargetLink string    `json:"target_link,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dispatcher runs the pipeline a subscription feeds.
type Dispatcher interface {
	Download(ctx context.Context, sub Subscription, msg telegram.Message) error
	Forward(ctx context.Context, sub Subscription, msg telegram.Message) error
}

// Reporter receives per-event dispatch failures.
type Reporter func(sub Subscription, msg telegram.Message, err error)

// Registry holds at most one subscription per source chat.
type Registry struct {
	dispatcher Dispatcher
	report     Reporter
	log        *logger.Logger
	now        func() time.Time

	downloadTypes map[telegram.MediaKind]bool
	forwardTypes  map[telegram.MediaKind]bool

	mu   sync.RWMutex
	subs map[int64]Subscription
}

// Option configures a Registry.
type Option func(*Registry)

// WithDownloadTypes limits listen-download to these media kinds.
func WithDownloadTypes(kinds []telegram.MediaKind) Option {
	return func(r *Registry) { r.downloadTypes = kindSet(kinds) }
}

// WithForwardTypes limits listen-forward to these kinds; TextKind admits text.
func WithForwardTypes(kinds []telegram.MediaKind) Option {
	return func(r *Registry) { r.forwardTypes = kindSet(kinds) }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock overrides the subscription timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func kindSet(kinds []telegram.MediaKind) map[telegram.MediaKind]bool {
	set := make(map[telegram.MediaKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// NewRegistry creates an empty registry. A nil reporter only logs.
func NewRegistry(dispatcher Dispatcher, report Reporter, opts ...Option) *Registry {
	all := append(telegram.MediaKinds(), TextKind)
	r := &Registry{
		dispatcher:    dispatcher,
		report:        report,
		log:           logger.Nop(),
		now:           time.Now,
		downloadTypes: kindSet(telegram.MediaKinds()),
		forwardTypes:  kindSet(all),
		subs:          make(map[int64]Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers sub. A source already listened to in either mode is
// rejected and its existing subscription is left untouched.
func (r *Registry) Subscribe(sub Subscription) error {
	if sub.Mode != ModeDownload && sub.Mode != ModeForward {
		return fmt.Errorf("unknown listen mode %q", sub.Mode)
	}
	if sub.Mode == ModeForward && sub.Target == 0 {
		return ErrMissingTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[sub.Source]; ok {
		if cur.Mode == sub.Mode {
			return fmt.Errorf("%w: %s", ErrAlreadyListening, cur.SourceLink)
		}
		return fmt.Errorf("%w: %s is in %s", ErrModeConflict, cur.SourceLink, cur.Mode)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.now()
	}
	r.subs[sub.Source] = sub
	r.log.Info().Int64("source", sub.Source).Str("mode", string(sub.Mode)).Int64("target", sub.Target).Msg("listen: subscribed")
	return nil
}

// Unsubscribe removes the subscription of source. The slot is freed even when
// mode differs from the one held; it reports whether anything was removed.
func (r *Registry) Unsubscribe(source int64, mode Mode) bool {
	cur, ok := r.Remove(source)
	if !ok {
		return false
	}
	ev := r.log.Info().Int64("source", source).Str("mode", string(cur.Mode))
	if cur.Mode != mode {
		ev = ev.Str("requested_mode", string(mode))
	}
	ev.Msg("listen: unsubscribed")
	return true
}

// Remove drops the subscription of source whatever its mode.
func (r *Registry) Remove(source int64) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[source]
	if ok {
		delete(r.subs, source)
	}
	return cur, ok
}

// Lookup returns the subscription of source.
func (r *Registry) Lookup(source int64) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[source]
	return sub, ok
}

// List returns every subscription, oldest first.
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Source < out[j].Source
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dispatch routes msg to the pipeline of its source subscription. It reports
// whether the message was handed on. Failures go to the reporter and never
// remove the subscription.
func (r *Registry) Dispatch(ctx context.Context, msg telegram.Message) bool {
	sub, ok := r.Lookup(msg.ChatID)
	if !ok || msg.Empty {
		return false
	}

	var err error
	switch sub.Mode {
	case ModeDownload:
		if !msg.HasMedia() || !r.downloadTypes[msg.Media] {
			return false
		}
		err = r.dispatcher.Download(ctx, sub, msg)
	case ModeForward:
		kind := msg.Media
		if !msg.HasMedia() {
			kind = TextKind
		}
		if !r.forwardTypes[kind] {
			return false
		}
		err = r.dispatcher.Forward(ctx, sub, msg)
	}

	if err != nil {
		r.log.Warn().Err(err).Int64("source", sub.Source).Int("msg_id", msg.ID).Str("mode", string(sub.Mode)).Msg("listen: dispatch failed")
		if r.report != nil {
			r.report(sub, msg, err)
		}
	}
	return true
}
