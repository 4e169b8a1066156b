// Package taskqueue runs download and upload tasks on bounded per-kind worker
// pools with retry, dedup of in-flight keys and a pre-flight skip check.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/logger"
)

// Kind selects the worker pool a task runs on.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// ParseKind converts an external kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDownload, KindUpload:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRetry   Status = "retry"
	StatusSkip    Status = "skip"
)

// Terminal reports whether s ends the task lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusSkip
}

// ErrCancelled is recorded for tasks removed by Cancel or Stop.
var ErrCancelled = errors.New("task cancelled")

// Task is one unit of work. Key must be unique per kind while the task is in flight.
type Task struct {
	Key         string
	Kind        Kind
	MaxAttempts int // 0 uses the queue default for the kind

	// Precheck runs before every execution. Returning true marks the task
	// skipped without running it.
	Precheck func(ctx context.Context) (bool, error)
	Run      func(ctx context.Context) error
}

// Record is the externally visible state of a task.
type Record struct {
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Err         string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Observer receives every status transition. Observers run on the
// goroutine that made the transition and must not block.
type Observer func(Record)

// Stats counts terminal outcomes for one kind.
type Stats struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Skip    int `json:"skip"`
	Retry   int `json:"retry"`
}

// Config bounds the queue.
type Config struct {
	Workers     map[Kind]int // concurrent slots per kind
	MaxAttempts map[Kind]int // default attempt ceiling per kind
	HistorySize int          // terminal records kept for Status lookups

	// NewBackOff builds the retry delay policy of one task.
	NewBackOff func() backoff.BackOff
}

const defaultHistorySize = 1000

// DefaultBackOff is the exponential policy used when the service gives no wait.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type entry struct {
	task    Task
	rec     Record
	backoff backoff.BackOff

	ctx       context.Context
	cancel    context.CancelFunc
	timer     *time.Timer
	claimed   bool // taken by a worker, precheck or run in progress
	cancelled bool
}

// Queue is a set of bounded worker pools, one per kind.
type Queue struct {
	cfg Config
	log *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[Kind][]*entry
	active  map[string]*entry
	done    map[string]Record
	order   []string
	stats   map[Kind]*Stats
	ctx     context.Context
	stop    context.CancelFunc
	started bool
	stopped bool

	obsMu     sync.RWMutex
	observers []Observer

	wg sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observers = append(q.observers, o) }
}

// New creates a stopped queue. Call Start to run workers.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = DefaultBackOff
	}
	q := &Queue{
		cfg:     cfg,
		log:     logger.Nop(),
		pending: make(map[Kind][]*entry),
		active:  make(map[string]*entry),
		done:    make(map[string]Record),
		stats:   make(map[Kind]*Stats),
	}
	q.cond = sync.NewCond(&q.mu)
	for kind := range cfg.Workers {
		q.stats[kind] = &Stats{}
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func recordID(key string, kind Kind) string {
	return string(kind) + "\x00" + key
}

// Subscribe adds an observer.
func (q *Queue) Subscribe(o Observer) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	q.observers = append(q.observers, o)
}

func (q *Queue) notify(rec Record) {
	q.obsMu.RLock()
	observers := q.observers
	q.obsMu.RUnlock()
	for _, o := range observers {
		o(rec)
	}
}

// Start launches the worker pools. Tasks enqueued earlier begin running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.ctx, q.stop = context.WithCancel(ctx)

	for kind, n := range q.cfg.Workers {
		for i := 0; i < n; i++ {
			q.wg.Add(1)
			go q.worker(kind)
		}
		q.log.Info().Str("kind", string(kind)).Int("workers", n).Msg("queue: pool started")
	}
}

// Stop cancels running tasks, fails waiting ones and waits for the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.stop != nil {
		q.stop()
	}
	var finished []Record
	for _, e := range q.active {
		if e.claimed {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		finished = append(finished, q.finishLocked(e, StatusFailure, ErrCancelled))
	}
	q.pending = make(map[Kind][]*entry)
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, rec := range finished {
		q.notify(rec)
	}
	q.wg.Wait()
}

// Wait blocks until no task is in flight.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.active) > 0 {
		q.cond.Wait()
	}
}

// Enqueue adds t to its pool. It returns false when a task with the same key
// and kind is already queued, running or waiting to retry.
func (q *Queue) Enqueue(t Task) bool {
	return q.Submit(t) == nil
}

// Submit is Enqueue with the rejection reason.
func (q *Queue) Submit(t Task) error {
	if t.Key == "" || t.Run == nil {
		return fmt.Errorf("task needs a key and a run function")
	}

	q.mu.Lock()
	if _, ok := q.cfg.Workers[t.Kind]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("no pool for task kind %q", t.Kind)
	}
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue stopped")
	}
	id := recordID(t.Key, t.Kind)
	if _, ok := q.active[id]; ok {
		q.mu.Unlock()
		q.log.Info().Str("key", t.Key).Str("kind", string(t.Kind)).Msg("queue: task already exists")
		return fmt.Errorf("%s: %w", t.Key, apperr.ErrDuplicateTask)
	}

	maxAttempts := t.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts[t.Kind]
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	e := &entry{
		task:    t,
		backoff: q.cfg.NewBackOff(),
		rec: Record{
			Key:         t.Key,
			Kind:        t.Kind,
			Status:      StatusQueued,
			MaxAttempts: maxAttempts,
			UpdatedAt:   time.Now(),
		},
	}
	q.active[id] = e
	q.pending[t.Kind] = append(q.pending[t.Kind], e)
	rec := e.rec
	q.cond.Broadcast()
	q.mu.Unlock()

	q.notify(rec)
	return nil
}

// Status returns the record of key, in flight or recently finished.
func (q *Queue) Status(key string, kind Kind) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := recordID(key, kind)
	if e, ok := q.active[id]; ok {
		return e.rec, true
	}
	rec, ok := q.done[id]
	return rec, ok
}

// Snapshot returns every known record, most recently updated first.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	out := make([]Record, 0, len(q.active)+len(q.done))
	for _, e := range q.active {
		out = append(out, e.rec)
	}
	for id, rec := range q.done {
		if _, live := q.active[id]; !live {
			out = append(out, rec)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Stats returns terminal outcome counters per kind.
func (q *Queue) Stats() map[Kind]Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Kind]Stats, len(q.stats))
	for kind, s := range q.stats {
		out[kind] = *s
	}
	return out
}

// InFlight returns the number of tasks not yet terminal.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Cancel stops a task. A queued or retry-waiting task is removed at once;
// a running task is cancelled at its next suspension point.
func (q *Queue) Cancel(key string, kind Kind) bool {
	q.mu.Lock()
	e, ok := q.active[recordID(key, kind)]
	if !ok {
		q.mu.Unlock()
		return false
	}

	switch {
	case e.claimed:
		e.cancelled = true
		if e.cancel != nil {
			e.cancel()
		}
		q.mu.Unlock()
		return true
	case e.rec.Status == StatusRetry:
		if e.timer != nil {
			e.timer.Stop()
		}
	default:
		q.removePendingLocked(e)
	}
	e.cancelled = true
	rec := q.finishLocked(e, StatusFailure, ErrCancelled)
	q.mu.Unlock()

	q.notify(rec)
	return true
}

func (q *Queue) removePendingLocked(e *entry) {
	list := q.pending[e.task.Kind]
	for i, p := range list {
		if p == e {
			q.pending[e.task.Kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// finishLocked moves e to the terminal history. Callers hold q.mu.
func (q *Queue) finishLocked(e *entry, status Status, err error) Record {
	id := recordID(e.task.Key, e.task.Kind)
	e.rec.Status = status
	e.rec.UpdatedAt = time.Now()
	e.rec.Err = ""
	if err != nil {
		e.rec.Err = err.Error()
	}
	delete(q.active, id)

	if _, seen := q.done[id]; !seen {
		q.order = append(q.order, id)
	}
	q.done[id] = e.rec
	for len(q.order) > q.cfg.HistorySize {
		delete(q.done, q.order[0])
		q.order = q.order[1:]
	}

	if s := q.stats[e.task.Kind]; s != nil {
		switch status {
		case StatusSuccess:
			s.Success++
		case StatusFailure:
			s.Failure++
		case StatusSkip:
			s.Skip++
		}
	}
	q.cond.Broadcast()
	return e.rec
}

func (q *Queue) worker(kind Kind) {
	defer q.wg.Done()
	for {
		e, ok := q.next(kind)
		if !ok {
			return
		}
		q.execute(e)
	}
}

func (q *Queue) next(kind Kind) (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending[kind]) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return nil, false
	}
	e := q.pending[kind][0]
	q.pending[kind] = q.pending[kind][1:]

	e.claimed = true
	e.ctx, e.cancel = context.WithCancel(q.ctx)
	return e, true
}

func (q *Queue) execute(e *entry) {
	ctx := e.ctx
	defer e.cancel()

	if e.task.Precheck != nil {
		skip, err := e.task.Precheck(ctx)
		if err != nil || skip {
			status := StatusSkip
			if err != nil {
				status = StatusFailure
			}
			q.finish(e, status, err)
			return
		}
	}

	q.mu.Lock()
	if e.cancelled || q.stopped {
		rec := q.finishLocked(e, StatusFailure, ErrCancelled)
		q.mu.Unlock()
		q.notify(rec)
		q.logOutcome(rec)
		return
	}
	e.rec.Status = StatusRunning
	e.rec.Attempt++
	e.rec.UpdatedAt = time.Now()
	rec := e.rec
	q.mu.Unlock()
	q.notify(rec)

	err := e.task.Run(ctx)

	q.mu.Lock()
	switch {
	case err == nil:
		rec = q.finishLocked(e, StatusSuccess, nil)
	case e.cancelled || q.stopped:
		rec = q.finishLocked(e, StatusFailure, fmt.Errorf("%w: %w", ErrCancelled, err))
	case apperr.IsTransient(err) && e.rec.Attempt < e.rec.MaxAttempts:
		rec = q.scheduleRetryLocked(e, err)
	default:
		rec = q.finishLocked(e, StatusFailure, err)
	}
	q.mu.Unlock()

	q.notify(rec)
	q.logOutcome(rec)
}

func (q *Queue) finish(e *entry, status Status, err error) {
	q.mu.Lock()
	rec := q.finishLocked(e, status, err)
	q.mu.Unlock()
	q.notify(rec)
	q.logOutcome(rec)
}

// scheduleRetryLocked parks e on a timer. No worker slot is held while it waits.
func (q *Queue) scheduleRetryLocked(e *entry, err error) Record {
	delay, ok := apperr.WaitHint(err)
	if !ok {
		delay = e.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = time.Second
		}
	}

	e.claimed = false
	e.rec.Status = StatusRetry
	e.rec.Err = err.Error()
	e.rec.UpdatedAt = time.Now()
	if s := q.stats[e.task.Kind]; s != nil {
		s.Retry++
	}
	e.timer = time.AfterFunc(delay, func() { q.requeue(e) })
	return e.rec
}

func (q *Queue) requeue(e *entry) {
	q.mu.Lock()
	if e.cancelled || q.stopped || e.rec.Status != StatusRetry {
		q.mu.Unlock()
		return
	}
	e.timer = nil
	e.rec.Status = StatusQueued
	e.rec.UpdatedAt = time.Now()
	q.pending[e.task.Kind] = append(q.pending[e.task.Kind], e)
	rec := e.rec
	q.cond.Broadcast()
	q.mu.Unlock()

	q.notify(rec)
}

func (q *Queue) logOutcome(rec Record) {
	ev := q.log.Info()
	if rec.Status == StatusFailure {
		ev = q.log.Warn()
	}
	ev.Str("key", rec.Key).
		Str("kind", string(rec.Kind)).
		Str("status", string(rec.Status)).
		Int("attempt", rec.Attempt).
		Int("max_attempts", rec.MaxAttempts).
		Str("error", rec.Err).
		Msg("queue: task update")
}
