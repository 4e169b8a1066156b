// Package wizard drives the per-chat filter dialog that precedes a bulk
// chat download: date range on a calendar keyboard, content-type toggles,
// then confirmation.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// State of a wizard session.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateExecuting
	StateCancelled
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateExecuting:
		return "executing"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Terminal reports whether s ends the session.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateCompleted
}

var (
	// ErrTaskPending rejects a second session for a chat that already has one.
	ErrTaskPending = errors.New("a filter task is already pending for this chat")

	ErrNoSession        = errors.New("no filter session for this chat")
	ErrInvalidDateRange = errors.New("start date is after end date")
	ErrNoContentTypes   = errors.New("no content type selected")
	ErrBadEvent         = errors.New("event not valid in this state")
)

// Report summarises a finished chat job.
type Report struct {
	JobID     string
	Scanned   int
	Matched   int
	Skipped   int
	Enqueued  int
	Duplicate int
}

func (r Report) String() string {
	return fmt.Sprintf("scanned %d, matched %d, skipped %d, queued %d, already queued %d",
		r.Scanned, r.Matched, r.Skipped, r.Enqueued, r.Duplicate)
}

// Executor runs the bulk job once a filter is confirmed.
type Executor interface {
	RunChatJob(ctx context.Context, source string, filter ChatFilter) (Report, error)
}

// Completion is delivered when an executing job ends.
type Completion struct {
	ChatID int64
	Source string
	State  State
	Report Report
	Err    error
}

// Result is what the caller should show after an event.
type Result struct {
	State  State
	View   View
	Filter ChatFilter
}

type screen int

const (
	screenMenu screen = iota
	screenDate
	screenCalendar
	screenTime
	screenTypes
)

// Session is the wizard state of one chat.
type Session struct {
	ChatID int64
	Source string
	State  State
	Filter ChatFilter

	screen screen
	side   Side
	year   int
	month  time.Month
	cancel context.CancelFunc
}

// Wizard owns every live session.
type Wizard struct {
	exec   Executor
	log    *logger.Logger
	now    func() time.Time
	loc    *time.Location
	ctx    context.Context
	onDone func(Completion)

	mu       sync.Mutex
	sessions map[int64]*Session
	jobs     sync.WaitGroup
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithClock overrides the clock used to open the calendar.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

// WithLocation sets the zone picked dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(w *Wizard) { w.loc = loc }
}

// WithContext sets the parent context of executing jobs.
func WithContext(ctx context.Context) Option {
	return func(w *Wizard) { w.ctx = ctx }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(w *Wizard) { w.log = l }
}

// OnDone registers the callback for finished or failed jobs.
func OnDone(fn func(Completion)) Option {
	return func(w *Wizard) { w.onDone = fn }
}

// New creates a Wizard.
func New(exec Executor, opts ...Option) *Wizard {
	w := &Wizard{
		exec:     exec,
		log:      logger.Nop(),
		now:      time.Now,
		loc:      time.Local,
		ctx:      context.Background(),
		sessions: make(map[int64]*Session),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Begin opens a session for chatID. source is the chat link the job will read.
func (w *Wizard) Begin(chatID int64, source string) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.sessions[chatID]; ok && !s.State.Terminal() {
		return Result{State: s.State}, ErrTaskPending
	}
	now := w.now().In(w.loc)
	s := &Session{
		ChatID: chatID,
		Source: source,
		State:  StateConfiguring,
		Filter: NewChatFilter(),
		screen: screenMenu,
		year:   now.Year(),
		month:  now.Month(),
	}
	w.sessions[chatID] = s
	w.log.Info().Int64("chat_id", chatID).Str("source", source).Msg("wizard: session started")
	return w.resultLocked(s), nil
}

// Session returns a copy of the live session of chatID.
func (w *Wizard) Session(chatID int64) (Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	out := *s
	out.Filter = s.Filter.Clone()
	return out, true
}

// Active counts sessions that hold a chat slot.
func (w *Wizard) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Cancel ends the session of chatID from any non-terminal state.
func (w *Wizard) Cancel(chatID int64) bool {
	res, err := w.HandleEvent(context.Background(), chatID, Event{Verb: VerbCancel})
	return err == nil && res.State == StateCancelled
}

// Wait blocks until every executing job has returned.
func (w *Wizard) Wait() {
	w.jobs.Wait()
}

// HandleEvent applies one keyboard event to the session of chatID.
func (w *Wizard) HandleEvent(_ context.Context, chatID int64, ev Event) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.sessions[chatID]
	if !ok {
		return Result{State: StateIdle}, ErrNoSession
	}

	if ev.Verb == VerbCancel {
		return w.cancelLocked(s), nil
	}
	if s.State != StateConfiguring {
		return w.resultLocked(s), fmt.Errorf("%w: %s while %s", ErrBadEvent, ev.Verb, s.State)
	}

	var err error
	switch ev.Verb {
	case VerbNoop:
	case VerbMenu:
		s.screen = screenMenu
	case VerbDate:
		s.screen = screenDate
	case VerbTypes:
		s.screen = screenTypes
	case VerbPick:
		s.side = ev.Side
		s.screen = screenCalendar
		if b := s.bound(ev.Side); b != nil {
			s.year, s.month = b.Year(), b.Month()
		}
	case VerbPrev, VerbNext:
		err = s.shiftMonth(ev)
	case VerbDay:
		err = w.pickDay(s, ev)
	case VerbTime:
		err = s.nudge(ev)
	case VerbStep:
		s.Filter.DateRange.Step = nextStep(s.Filter.DateRange.Step)
	case VerbClear:
		s.setBound(ev.Side, nil)
		s.screen = screenDate
	case VerbToggle:
		kind := telegram.MediaKind(ev.Arg)
		if _, known := s.Filter.ContentTypes[kind]; !known {
			err = fmt.Errorf("%w: unknown content type %q", ErrBadEvent, ev.Arg)
			break
		}
		s.Filter.ContentTypes[kind] = !s.Filter.ContentTypes[kind]
	case VerbOK:
		err = w.confirmLocked(s)
	default:
		err = fmt.Errorf("%w: unknown verb %q", ErrBadEvent, ev.Verb)
	}
	return w.resultLocked(s), err
}

func (w *Wizard) resultLocked(s *Session) Result {
	return Result{State: s.State, View: w.render(s), Filter: s.Filter.Clone()}
}

func (w *Wizard) cancelLocked(s *Session) Result {
	if s.cancel != nil {
		s.cancel()
	}
	s.State = StateCancelled
	delete(w.sessions, s.ChatID)
	w.log.Info().Int64("chat_id", s.ChatID).Msg("wizard: session cancelled")
	return w.resultLocked(s)
}

func (w *Wizard) confirmLocked(s *Session) error {
	r := s.Filter.DateRange
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return ErrInvalidDateRange
	}
	if len(s.Filter.Enabled()) == 0 {
		return ErrNoContentTypes
	}

	ctx, cancel := context.WithCancel(w.ctx)
	s.cancel = cancel
	s.State = StateExecuting
	filter := s.Filter.Clone()

	w.log.Info().Int64("chat_id", s.ChatID).Str("source", s.Source).Str("filter", filter.String()).Msg("wizard: job started")
	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()
		defer cancel()
		report, err := w.exec.RunChatJob(ctx, s.Source, filter)
		w.complete(s, report, err)
	}()
	return nil
}

// complete frees the chat slot when a job returns, unless the session was cancelled.
func (w *Wizard) complete(s *Session, report Report, err error) {
	w.mu.Lock()
	state := StateCompleted
	if s.State == StateCancelled {
		state = StateCancelled
	} else {
		s.State = StateCompleted
	}
	if cur, ok := w.sessions[s.ChatID]; ok && cur == s {
		delete(w.sessions, s.ChatID)
	}
	onDone := w.onDone
	w.mu.Unlock()

	ev := w.log.Info()
	if err != nil {
		ev = w.log.Warn().Err(err)
	}
	ev.Int64("chat_id", s.ChatID).Str("report", report.String()).Msg("wizard: job finished")

	if onDone != nil {
		onDone(Completion{ChatID: s.ChatID, Source: s.Source, State: state, Report: report, Err: err})
	}
}

func (w *Wizard) pickDay(s *Session, ev Event) error {
	day, err := time.ParseInLocation(time.DateOnly, ev.Arg, w.loc)
	if err != nil {
		return fmt.Errorf("%w: bad day %q", ErrBadEvent, ev.Arg)
	}
	s.setBound(ev.Side, &day)
	s.side = ev.Side
	s.screen = screenTime
	return nil
}

func (s *Session) bound(side Side) *time.Time {
	if side == SideEnd {
		return s.Filter.DateRange.End
	}
	return s.Filter.DateRange.Start
}

func (s *Session) setBound(side Side, t *time.Time) {
	if side == SideEnd {
		s.Filter.DateRange.End = t
		return
	}
	s.Filter.DateRange.Start = t
}

func (s *Session) shiftMonth(ev Event) error {
	shown, err := time.Parse("2006-01", ev.Arg)
	if err != nil {
		return fmt.Errorf("%w: bad month %q", ErrBadEvent, ev.Arg)
	}
	if ev.Verb == VerbPrev {
		s.year, s.month = PrevMonth(shown.Year(), shown.Month())
	} else {
		s.year, s.month = NextMonth(shown.Year(), shown.Month())
	}
	s.side = ev.Side
	s.screen = screenCalendar
	return nil
}

func (s *Session) nudge(ev Event) error {
	b := s.bound(ev.Side)
	if b == nil {
		return fmt.Errorf("%w: no date picked yet", ErrBadEvent)
	}
	if len(ev.Arg) != 2 || (ev.Arg[1] != '+' && ev.Arg[1] != '-') {
		return fmt.Errorf("%w: bad nudge %q", ErrBadEvent, ev.Arg)
	}
	unit := Unit(ev.Arg[0])
	if unit != Hour && unit != Minute && unit != Second {
		return fmt.Errorf("%w: bad unit %q", ErrBadEvent, ev.Arg)
	}
	delta := s.Filter.DateRange.Step
	if ev.Arg[1] == '-' {
		delta = -delta
	}
	t := Nudge(*b, unit, delta)
	s.setBound(ev.Side, &t)
	s.side = ev.Side
	s.screen = screenTime
	return nil
}
