package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/telegram"
)

type fakeExecutor struct {
	mu      sync.Mutex
	filters []ChatFilter
	block   chan struct{}
	err     error
}

func (f *fakeExecutor) RunChatJob(ctx context.Context, source string, filter ChatFilter) (Report, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
	}
	return Report{Scanned: 10, Matched: 4, Enqueued: 4}, f.err
}

const chat int64 = -1001234567890

func fixedClock() time.Time {
	return time.Date(2024, time.January, 20, 15, 4, 5, 0, time.UTC)
}

func newTestWizard(exec Executor, opts ...Option) *Wizard {
	opts = append([]Option{WithClock(fixedClock), WithLocation(time.UTC)}, opts...)
	return New(exec, opts...)
}

func press(t *testing.T, w *Wizard, ev Event) Result {
	t.Helper()
	res, err := w.HandleEvent(context.Background(), chat, ev)
	require.NoError(t, err)
	return res
}

func TestWizard_BeginRejectsSecondSession(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})

	res, err := w.Begin(chat, "https://t.me/c/1234567890")
	require.NoError(t, err)
	assert.Equal(t, StateConfiguring, res.State)

	_, err = w.Begin(chat, "https://t.me/c/1234567890")
	assert.ErrorIs(t, err, ErrTaskPending)

	// another chat is independent
	_, err = w.Begin(42, "https://t.me/other")
	assert.NoError(t, err)
	assert.Equal(t, 2, w.Active())
}

func TestWizard_DefaultsAllTypesEnabled(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	res, err := w.Begin(chat, "src")
	require.NoError(t, err)

	for _, k := range telegram.MediaKinds() {
		assert.True(t, res.Filter.ContentTypes[k], k)
	}
	assert.Nil(t, res.Filter.DateRange.Start)
	assert.Equal(t, 1, res.Filter.DateRange.Step)
}

func TestWizard_ToggleTypes(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	press(t, w, Event{Verb: VerbToggle, Arg: "video"})
	press(t, w, Event{Verb: VerbToggle, Arg: "voice"})
	res := press(t, w, Event{Verb: VerbToggle, Arg: "video"})

	assert.True(t, res.Filter.ContentTypes[telegram.MediaVideo])
	assert.False(t, res.Filter.ContentTypes[telegram.MediaVoice])
	assert.True(t, res.Filter.ContentTypes[telegram.MediaPhoto])

	_, err = w.HandleEvent(context.Background(), chat, Event{Verb: VerbToggle, Arg: "sticker"})
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestWizard_CalendarNavigation(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	press(t, w, Event{Verb: VerbPick, Side: SideStart})
	s, _ := w.Session(chat)
	assert.Equal(t, 2024, s.year)
	assert.Equal(t, time.January, s.month)

	press(t, w, Event{Verb: VerbPrev, Side: SideStart, Arg: "2024-01"})
	s, _ = w.Session(chat)
	assert.Equal(t, 2023, s.year)
	assert.Equal(t, time.December, s.month)

	press(t, w, Event{Verb: VerbNext, Side: SideStart, Arg: "2023-12"})
	s, _ = w.Session(chat)
	assert.Equal(t, 2024, s.year)
	assert.Equal(t, time.January, s.month)
}

func TestWizard_DayAndTime(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	res := press(t, w, Event{Verb: VerbDay, Side: SideStart, Arg: "2024-01-15"})
	require.NotNil(t, res.Filter.DateRange.Start)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *res.Filter.DateRange.Start)

	// step 1 -> 5
	press(t, w, Event{Verb: VerbStep, Side: SideStart})
	res = press(t, w, Event{Verb: VerbTime, Side: SideStart, Arg: "h-"})
	assert.Equal(t, time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC), *res.Filter.DateRange.Start,
		"hour wraps without touching the date")

	res = press(t, w, Event{Verb: VerbTime, Side: SideStart, Arg: "m-"})
	assert.Equal(t, 55, res.Filter.DateRange.Start.Minute())
	assert.Equal(t, 19, res.Filter.DateRange.Start.Hour())

	_, err = w.HandleEvent(context.Background(), chat, Event{Verb: VerbTime, Side: SideEnd, Arg: "h+"})
	assert.ErrorIs(t, err, ErrBadEvent, "end has no date yet")

	res = press(t, w, Event{Verb: VerbClear, Side: SideStart})
	assert.Nil(t, res.Filter.DateRange.Start)
}

func TestWizard_StepCycle(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	var got []int
	for range Steps {
		res := press(t, w, Event{Verb: VerbStep, Side: SideStart})
		got = append(got, res.Filter.DateRange.Step)
	}
	assert.Equal(t, []int{5, 10, 15, 30, 1}, got)
}

func TestWizard_ConfirmRunsJobAndFreesSlot(t *testing.T) {
	exec := &fakeExecutor{}
	done := make(chan Completion, 1)
	w := newTestWizard(exec, OnDone(func(c Completion) { done <- c }))

	_, err := w.Begin(chat, "src")
	require.NoError(t, err)
	press(t, w, Event{Verb: VerbDay, Side: SideStart, Arg: "2024-01-01"})
	press(t, w, Event{Verb: VerbToggle, Arg: "photo"})
	res := press(t, w, Event{Verb: VerbOK})
	assert.Equal(t, StateExecuting, res.State)

	c := <-done
	assert.Equal(t, StateCompleted, c.State)
	assert.Equal(t, 4, c.Report.Enqueued)
	assert.NoError(t, c.Err)

	w.Wait()
	assert.Zero(t, w.Active())
	require.Len(t, exec.filters, 1)
	assert.False(t, exec.filters[0].ContentTypes[telegram.MediaPhoto])
	assert.Equal(t, 1, exec.filters[0].DateRange.Start.Day())

	_, err = w.Begin(chat, "src")
	assert.NoError(t, err)
}

func TestWizard_ConfirmRejectsReversedRange(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	press(t, w, Event{Verb: VerbDay, Side: SideStart, Arg: "2024-02-01"})
	press(t, w, Event{Verb: VerbDay, Side: SideEnd, Arg: "2024-01-01"})
	res, err := w.HandleEvent(context.Background(), chat, Event{Verb: VerbOK})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
	assert.Equal(t, StateConfiguring, res.State)
}

func TestWizard_ConfirmNeedsAType(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)
	for _, k := range telegram.MediaKinds() {
		press(t, w, Event{Verb: VerbToggle, Arg: string(k)})
	}
	_, err = w.HandleEvent(context.Background(), chat, Event{Verb: VerbOK})
	assert.ErrorIs(t, err, ErrNoContentTypes)
}

func TestWizard_CancelWhileConfiguring(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	assert.True(t, w.Cancel(chat))
	assert.Zero(t, w.Active())

	_, err = w.HandleEvent(context.Background(), chat, Event{Verb: VerbMenu})
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = w.Begin(chat, "src")
	assert.NoError(t, err)
}

func TestWizard_CancelWhileExecuting(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	done := make(chan Completion, 1)
	w := newTestWizard(exec, OnDone(func(c Completion) { done <- c }))

	_, err := w.Begin(chat, "src")
	require.NoError(t, err)
	press(t, w, Event{Verb: VerbOK})

	_, err = w.HandleEvent(context.Background(), chat, Event{Verb: VerbTypes})
	assert.ErrorIs(t, err, ErrBadEvent, "no edits while executing")

	res := press(t, w, Event{Verb: VerbCancel})
	assert.Equal(t, StateCancelled, res.State)

	c := <-done
	assert.Equal(t, StateCancelled, c.State)
	assert.ErrorIs(t, c.Err, context.Canceled)
	w.Wait()
	assert.Zero(t, w.Active())
}

func TestWizard_JobErrorIsReported(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("chat not found")}
	done := make(chan Completion, 1)
	w := newTestWizard(exec, OnDone(func(c Completion) { done <- c }))

	_, err := w.Begin(chat, "src")
	require.NoError(t, err)
	press(t, w, Event{Verb: VerbOK})

	c := <-done
	assert.EqualError(t, c.Err, "chat not found")
	w.Wait()
}

func TestWizard_ViewCallbacksFitTelegramLimit(t *testing.T) {
	w := newTestWizard(&fakeExecutor{})
	_, err := w.Begin(chat, "src")
	require.NoError(t, err)

	screens := []Event{
		{Verb: VerbMenu},
		{Verb: VerbDate},
		{Verb: VerbTypes},
		{Verb: VerbPick, Side: SideEnd},
		{Verb: VerbDay, Side: SideEnd, Arg: "2024-03-31"},
	}
	for _, ev := range screens {
		res := press(t, w, ev)
		require.NotEmpty(t, res.View.Rows, ev.Verb)
		for _, row := range res.View.Rows {
			for _, b := range row {
				assert.LessOrEqual(t, len(b.Data), MaxCallbackData, b.Data)
				id, decoded, err := ParseEvent(b.Data)
				require.NoError(t, err, b.Data)
				assert.Equal(t, chat, id)
				assert.NotEmpty(t, decoded.Verb)
			}
		}
	}
}
