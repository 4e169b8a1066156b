package listen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/telegram"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Download(ctx context.Context, sub Subscription, msg telegram.Message) error {
	args := m.Called(ctx, sub, msg)
	return args.Error(0)
}

func (m *mockDispatcher) Forward(ctx context.Context, sub Subscription, msg telegram.Message) error {
	args := m.Called(ctx, sub, msg)
	return args.Error(0)
}

const source int64 = -1002530641322

func TestSubscribe_MutualExclusion(t *testing.T) {
	r := NewRegistry(&mockDispatcher{}, nil)

	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeDownload, SourceLink: "https://t.me/c/2530641322"}))

	err := r.Subscribe(Subscription{Source: source, Mode: ModeForward, Target: 7})
	assert.ErrorIs(t, err, ErrModeConflict)

	err = r.Subscribe(Subscription{Source: source, Mode: ModeDownload})
	assert.ErrorIs(t, err, ErrAlreadyListening)

	sub, ok := r.Lookup(source)
	require.True(t, ok)
	assert.Equal(t, ModeDownload, sub.Mode, "original subscription untouched")
	assert.Equal(t, "https://t.me/c/2530641322", sub.SourceLink)
	assert.Len(t, r.List(), 1)
}

func TestSubscribe_Validation(t *testing.T) {
	r := NewRegistry(&mockDispatcher{}, nil)
	assert.ErrorIs(t, r.Subscribe(Subscription{Source: 1, Mode: ModeForward}), ErrMissingTarget)
	assert.Error(t, r.Subscribe(Subscription{Source: 1, Mode: "listen_everything"}))
	assert.Empty(t, r.List())
}

func TestUnsubscribe_OtherModeStillRemoves(t *testing.T) {
	r := NewRegistry(&mockDispatcher{}, nil)
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeForward, Target: 9}))

	assert.True(t, r.Unsubscribe(source, ModeDownload))
	_, ok := r.Lookup(source)
	assert.False(t, ok)
	assert.False(t, r.Unsubscribe(source, ModeDownload))
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry(&mockDispatcher{}, nil)
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeForward, Target: 9}))

	assert.True(t, r.Unsubscribe(source, ModeForward))
	assert.False(t, r.Unsubscribe(source, ModeForward))
	_, ok := r.Lookup(source)
	assert.False(t, ok)

	// the slot is free for either mode again
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeDownload}))
	sub, ok := r.Remove(source)
	assert.True(t, ok)
	assert.Equal(t, ModeDownload, sub.Mode)
}

func TestList_OldestFirst(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(&mockDispatcher{}, nil, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	require.NoError(t, r.Subscribe(Subscription{Source: 3, Mode: ModeDownload}))
	require.NoError(t, r.Subscribe(Subscription{Source: 1, Mode: ModeDownload}))
	require.NoError(t, r.Subscribe(Subscription{Source: 2, Mode: ModeForward, Target: 5}))

	var got []int64
	for _, s := range r.List() {
		got = append(got, s.Source)
	}
	assert.Equal(t, []int64{3, 1, 2}, got)
}

func TestDispatch_Download(t *testing.T) {
	d := &mockDispatcher{}
	r := NewRegistry(d, nil, WithDownloadTypes([]telegram.MediaKind{telegram.MediaPhoto, telegram.MediaVideo}))
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeDownload}))

	photo := telegram.Message{ID: 1, ChatID: source, Media: telegram.MediaPhoto}
	d.On("Download", mock.Anything, mock.MatchedBy(func(s Subscription) bool { return s.Source == source }), photo).Return(nil).Once()

	assert.True(t, r.Dispatch(context.Background(), photo))
	assert.False(t, r.Dispatch(context.Background(), telegram.Message{ID: 2, ChatID: source, Media: telegram.MediaVoice}))
	assert.False(t, r.Dispatch(context.Background(), telegram.Message{ID: 3, ChatID: source, Text: "hi"}))
	assert.False(t, r.Dispatch(context.Background(), telegram.Message{ID: 4, ChatID: 99, Media: telegram.MediaPhoto}))

	d.AssertExpectations(t)
	d.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_ForwardTypes(t *testing.T) {
	d := &mockDispatcher{}
	r := NewRegistry(d, nil, WithForwardTypes([]telegram.MediaKind{TextKind, telegram.MediaDocument}))
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeForward, Target: 42}))

	text := telegram.Message{ID: 1, ChatID: source, Text: "news"}
	doc := telegram.Message{ID: 2, ChatID: source, Media: telegram.MediaDocument}
	d.On("Forward", mock.Anything, mock.Anything, text).Return(nil).Once()
	d.On("Forward", mock.Anything, mock.Anything, doc).Return(nil).Once()

	assert.True(t, r.Dispatch(context.Background(), text))
	assert.True(t, r.Dispatch(context.Background(), doc))
	assert.False(t, r.Dispatch(context.Background(), telegram.Message{ID: 3, ChatID: source, Media: telegram.MediaPhoto}))
	d.AssertExpectations(t)
}

func TestDispatch_FailureKeepsSubscription(t *testing.T) {
	d := &mockDispatcher{}
	var reported []error
	r := NewRegistry(d, func(_ Subscription, _ telegram.Message, err error) {
		reported = append(reported, err)
	})
	require.NoError(t, r.Subscribe(Subscription{Source: source, Mode: ModeForward, Target: 42}))

	boom := errors.New("CHAT_WRITE_FORBIDDEN")
	d.On("Forward", mock.Anything, mock.Anything, mock.Anything).Return(boom)

	msg := telegram.Message{ID: 1, ChatID: source, Media: telegram.MediaPhoto}
	assert.True(t, r.Dispatch(context.Background(), msg))
	assert.True(t, r.Dispatch(context.Background(), msg))

	assert.Equal(t, []error{boom, boom}, reported)
	_, ok := r.Lookup(source)
	assert.True(t, ok)
}
