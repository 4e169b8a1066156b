package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// fakeService serves messages from memory.
type fakeService struct {
	chats      map[string]*telegram.Chat
	messages   map[int64]map[int]telegram.Message
	replies    map[int][]telegram.Message
	repliesErr error
	groupErr   error
	linked     *telegram.Chat

	groupCalls int
}

func newFake() *fakeService {
	return &fakeService{
		chats: map[string]*telegram.Chat{
			"news": {ID: -1001, Username: "news"},
		},
		messages: map[int64]map[int]telegram.Message{},
		replies:  map[int][]telegram.Message{},
	}
}

func (f *fakeService) put(chatID int64, msgs ...telegram.Message) {
	if f.messages[chatID] == nil {
		f.messages[chatID] = map[int]telegram.Message{}
	}
	for _, m := range msgs {
		m.ChatID = chatID
		f.messages[chatID][m.ID] = m
	}
}

func (f *fakeService) ResolveChat(_ context.Context, ref link.ChatRef) (*telegram.Chat, error) {
	if ref.Username != "" {
		if c, ok := f.chats[ref.Username]; ok {
			return c, nil
		}
		return nil, apperr.ErrNotFound
	}
	return &telegram.Chat{ID: ref.ID}, nil
}

func (f *fakeService) GetMessage(_ context.Context, chat *telegram.Chat, id int) (telegram.Message, error) {
	if m, ok := f.messages[chat.ID][id]; ok {
		return m, nil
	}
	return telegram.Message{ID: id, ChatID: chat.ID, Empty: true}, nil
}

func (f *fakeService) MediaGroup(_ context.Context, chat *telegram.Chat, msg telegram.Message) (telegram.Membership, []telegram.Message, error) {
	f.groupCalls++
	if f.groupErr != nil {
		return telegram.MembershipUnknown, nil, f.groupErr
	}
	if msg.GroupedID == 0 {
		return telegram.MembershipStandalone, nil, nil
	}
	var out []telegram.Message
	for id := msg.ID - 9; id <= msg.ID+10; id++ {
		if m, ok := f.messages[chat.ID][id]; ok && m.GroupedID == msg.GroupedID {
			out = append(out, m)
		}
	}
	return telegram.MembershipGrouped, out, nil
}

func (f *fakeService) DiscussionReplies(_ context.Context, _ *telegram.Chat, postID int) ([]telegram.Message, error) {
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	return f.replies[postID], nil
}

func (f *fakeService) LinkedChat(_ context.Context, _ *telegram.Chat) (*telegram.Chat, error) {
	if f.linked == nil {
		return nil, apperr.ErrNotFound
	}
	return f.linked, nil
}

func ids(msgs []telegram.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestResolve_Single(t *testing.T) {
	svc := newFake()
	svc.put(-1001, telegram.Message{ID: 5, Media: telegram.MediaPhoto})

	item, err := New(svc, nil).ResolveLink(context.Background(), "https://t.me/news/5")
	require.NoError(t, err)
	assert.Equal(t, LinkSingle, item.LinkType)
	assert.Equal(t, int64(-1001), item.ChatID)
	assert.Equal(t, []int{5}, ids(item.Items))
	assert.Equal(t, 1, item.MemberCount)
}

func TestResolve_Album(t *testing.T) {
	svc := newFake()
	svc.put(-1001,
		telegram.Message{ID: 10, GroupedID: 3, Media: telegram.MediaPhoto},
		telegram.Message{ID: 11, GroupedID: 3, Media: telegram.MediaPhoto},
		telegram.Message{ID: 12, GroupedID: 3, Media: telegram.MediaVideo},
		telegram.Message{ID: 13, Media: telegram.MediaVideo},
	)
	r := New(svc, nil)

	item, err := r.ResolveLink(context.Background(), "t.me/news/11")
	require.NoError(t, err)
	assert.Equal(t, LinkGroup, item.LinkType)
	assert.Equal(t, []int{10, 11, 12}, ids(item.Items))
	assert.Equal(t, 3, item.MemberCount)

	t.Run("single forces standalone", func(t *testing.T) {
		svc.groupCalls = 0
		item, err := r.ResolveLink(context.Background(), "t.me/news/11?single")
		require.NoError(t, err)
		assert.Equal(t, LinkSingle, item.LinkType)
		assert.Equal(t, []int{11}, ids(item.Items))
		assert.Zero(t, svc.groupCalls)
	})

	t.Run("topic album", func(t *testing.T) {
		item, err := r.ResolveLink(context.Background(), "t.me/news/2/11")
		require.NoError(t, err)
		assert.Equal(t, LinkTopic, item.LinkType)
		assert.Len(t, item.Items, 3)
	})
}

func TestResolve_PrivateChannel(t *testing.T) {
	svc := newFake()
	svc.put(-1002530641322, telegram.Message{ID: 1, Media: telegram.MediaDocument})

	item, err := New(svc, nil).ResolveLink(context.Background(), "https://t.me/c/2530641322/1")
	require.NoError(t, err)
	assert.Equal(t, int64(-1002530641322), item.ChatID)
	assert.Equal(t, LinkSingle, item.LinkType)
}

func TestResolve_Missing(t *testing.T) {
	svc := newFake()

	_, err := New(svc, nil).ResolveLink(context.Background(), "t.me/news/404")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, svc.groupCalls)

	_, err = New(svc, nil).ResolveLink(context.Background(), "t.me/nobody/1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolve_ChatOnlyIsInvalid(t *testing.T) {
	_, err := New(newFake(), nil).ResolveLink(context.Background(), "t.me/news")
	assert.ErrorIs(t, err, apperr.ErrInvalidLink)

	_, err = New(newFake(), nil).ResolveLink(context.Background(), "t.me/news/abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidLink)
}

func TestResolve_AmbiguousMembershipIsStandalone(t *testing.T) {
	svc := newFake()
	svc.put(-1001, telegram.Message{ID: 7, GroupedID: 9, Media: telegram.MediaPhoto})
	svc.groupErr = errors.New("timeout")

	item, err := New(svc, nil).ResolveLink(context.Background(), "t.me/news/7")
	require.NoError(t, err)
	assert.Equal(t, LinkSingle, item.LinkType)
	assert.Equal(t, []int{7}, ids(item.Items))
}

func TestResolve_Comments(t *testing.T) {
	svc := newFake()
	svc.put(-1001, telegram.Message{ID: 20, Media: telegram.MediaPhoto})
	svc.replies[20] = []telegram.Message{
		{ID: 100, Media: telegram.MediaVideo},
		{ID: 101, Text: "nice"},
		{ID: 102, Media: telegram.MediaVoice},
	}
	r := New(svc, nil)

	item, err := r.ResolveLink(context.Background(), "t.me/news/20?comment")
	require.NoError(t, err)
	assert.Equal(t, LinkComment, item.LinkType)
	assert.Equal(t, []int{20, 100, 102}, ids(item.Items), "text replies are dropped")

	t.Run("topic post with comments", func(t *testing.T) {
		item, err := r.ResolveLink(context.Background(), "t.me/news/3/20?comment")
		require.NoError(t, err)
		assert.Equal(t, LinkTopic, item.LinkType)
	})

	t.Run("single comment reply", func(t *testing.T) {
		item, err := r.ResolveLink(context.Background(), "t.me/news/20?comment=102&single&comment")
		require.NoError(t, err)
		assert.Equal(t, []int{102}, ids(item.Items))
	})

	t.Run("deleted post keeps replies", func(t *testing.T) {
		svc.replies[21] = []telegram.Message{{ID: 200, Media: telegram.MediaPhoto}}
		item, err := r.ResolveLink(context.Background(), "t.me/news/21?comment")
		require.NoError(t, err)
		assert.Equal(t, LinkComment, item.LinkType)
		assert.Equal(t, []int{200}, ids(item.Items))
	})

	t.Run("no discussion thread", func(t *testing.T) {
		svc.repliesErr = apperr.ErrNotFound
		defer func() { svc.repliesErr = nil }()
		item, err := r.ResolveLink(context.Background(), "t.me/news/20?comment")
		require.NoError(t, err)
		assert.Equal(t, []int{20}, ids(item.Items))
	})

	t.Run("reply fetch failure surfaces", func(t *testing.T) {
		svc.repliesErr = apperr.Transient(errors.New("reset"), 0)
		defer func() { svc.repliesErr = nil }()
		_, err := r.ResolveLink(context.Background(), "t.me/news/20?comment")
		assert.True(t, apperr.IsTransient(err))
	})
}

func TestResolve_CommentID(t *testing.T) {
	svc := newFake()
	svc.linked = &telegram.Chat{ID: -1009}
	svc.put(-1009, telegram.Message{ID: 55, Media: telegram.MediaDocument})
	r := New(svc, nil)

	item, err := r.ResolveLink(context.Background(), "https://t.me/news/20?comment=55")
	require.NoError(t, err)
	assert.Equal(t, LinkSingle, item.LinkType)
	assert.Equal(t, int64(-1009), item.ChatID)
	assert.Equal(t, []int{55}, ids(item.Items))

	_, err = r.ResolveLink(context.Background(), "https://t.me/news/20?comment=56")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
