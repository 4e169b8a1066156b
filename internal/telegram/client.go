// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"math/rand/v2"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/logger"
)

const (
	historyPageSize = 100
	maxReplies      = 5000
)

// Client wraps gotgproto client and provides high-level telegram operations.
// Every call goes through the rate limiter and a per-call timeout.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	callTimeout time.Duration
	log         *logger.Logger

	mu    sync.RWMutex
	byID  map[int64]*Chat
	byTag map[string]*Chat
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager, limiter *RateLimiter, callTimeout time.Duration) *Client {
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}
	if callTimeout <= 0 {
		callTimeout = 100 * time.Second
	}
	return &Client{
		manager:     manager,
		rateLimiter: limiter,
		callTimeout: callTimeout,
		log:         logger.Get().Component("telegram"),
		byID:        make(map[int64]*Chat),
		byTag:       make(map[string]*Chat),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrNotAuthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// IsPremium reports whether the logged in account has the higher upload ceiling.
func (c *Client) IsPremium() bool {
	proto, err := c.getProto()
	if err != nil || proto.Self == nil {
		return false
	}
	return proto.Self.Premium
}

// SelfID returns the logged in user id, 0 when not authorized.
func (c *Client) SelfID() int64 {
	proto, err := c.getProto()
	if err != nil || proto.Self == nil {
		return 0
	}
	return proto.Self.ID
}

// invoke runs fn under the rate limiter with the default call timeout.
func (c *Client) invoke(ctx context.Context, op string, fn func(ctx context.Context, api *tg.Client) error) error {
	return c.invokeWith(ctx, op, c.callTimeout, fn)
}

// invokeWith is invoke with an explicit timeout, 0 for none.
func (c *Client) invokeWith(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context, api *tg.Client) error) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	api, err := c.API()
	if err != nil {
		return err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = classify(ctx, fn(callCtx, api))
	if err == nil {
		return nil
	}
	if wait, ok := apperr.WaitHint(err); ok {
		c.log.Warn().Dur("wait", wait).Str("op", op).Msg("telegram: FLOOD_WAIT detected, pausing requests")
		c.rateLimiter.SetFloodWait(wait)
	}
	c.log.Debug().Err(err).Str("op", op).Msg("telegram: call failed")
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) remember(chat *Chat) *Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[chat.ID] = chat
	if chat.Username != "" {
		c.byTag[strings.ToLower(chat.Username)] = chat
	}
	return chat
}

func (c *Client) cached(ref link.ChatRef) (*Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ref.Username != "" {
		chat, ok := c.byTag[strings.ToLower(ref.Username)]
		return chat, ok
	}
	chat, ok := c.byID[ref.ID]
	return chat, ok
}

// ResolveChat turns a username, alias or numeric id into a usable peer.
func (c *Client) ResolveChat(ctx context.Context, ref link.ChatRef) (*Chat, error) {
	if ref.IsSelf() {
		id := c.SelfID()
		if id == 0 {
			return nil, ErrNotAuthorized
		}
		return &Chat{ID: id, Peer: &tg.InputPeerSelf{}, Title: "Saved Messages"}, nil
	}
	if chat, ok := c.cached(ref); ok {
		return chat, nil
	}

	if ref.Username != "" {
		return c.resolveUsername(ctx, strings.TrimPrefix(ref.Username, "@"))
	}

	if chat := c.fromPeerStorage(ref.ID); chat != nil {
		return c.remember(chat), nil
	}
	if err := c.loadDialogs(ctx); err != nil {
		return nil, err
	}
	if chat, ok := c.cached(ref); ok {
		return chat, nil
	}
	return nil, fmt.Errorf("resolve chat %d: %w", ref.ID, apperr.ErrNotFound)
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*Chat, error) {
	c.log.Info().Str("username", username).Msg("telegram: resolving username")

	var resolved *tg.ContactsResolvedPeer
	err := c.invoke(ctx, "resolve username", func(ctx context.Context, api *tg.Client) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, chat := range chatsFromEntities(resolved.Chats, resolved.Users) {
		c.remember(chat)
	}
	if chat, ok := c.cached(link.ChatRef{ID: peerChatID(resolved.Peer)}); ok {
		return chat, nil
	}
	return nil, fmt.Errorf("resolve username %s: %w", username, apperr.ErrNotFound)
}

// fromPeerStorage consults gotgproto's peer cache, which is filled from every update.
func (c *Client) fromPeerStorage(chatID int64) *Chat {
	proto, err := c.getProto()
	if err != nil || proto.PeerStorage == nil {
		return nil
	}
	keys := []int64{chatID}
	if ch, ok := link.ChannelID(chatID); ok {
		keys = append(keys, ch)
	} else if chatID < 0 {
		keys = append(keys, -chatID)
	}
	for _, key := range keys {
		peer := proto.PeerStorage.GetInputPeerById(key)
		switch peer.(type) {
		case nil, *tg.InputPeerEmpty:
			continue
		}
		return &Chat{ID: chatID, Peer: peer}
	}
	return nil
}

// loadDialogs caches the first page of dialogs so bare numeric ids resolve.
func (c *Client) loadDialogs(ctx context.Context) error {
	return c.invoke(ctx, "get dialogs", func(ctx context.Context, api *tg.Client) error {
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      historyPageSize,
		})
		if err != nil {
			return err
		}
		var chats []tg.ChatClass
		var users []tg.UserClass
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			chats, users = d.Chats, d.Users
		case *tg.MessagesDialogsSlice:
			chats, users = d.Chats, d.Users
		}
		for _, chat := range chatsFromEntities(chats, users) {
			c.remember(chat)
		}
		return nil
	})
}

func chatsFromEntities(chats []tg.ChatClass, users []tg.UserClass) []*Chat {
	var out []*Chat
	for _, ch := range chats {
		switch ch := ch.(type) {
		case *tg.Channel:
			out = append(out, &Chat{
				ID:        link.MarkChannel(ch.ID),
				Peer:      &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
				Title:     ch.Title,
				Username:  ch.Username,
				Broadcast: ch.Broadcast,
			})
		case *tg.Chat:
			out = append(out, &Chat{
				ID:    -ch.ID,
				Peer:  &tg.InputPeerChat{ChatID: ch.ID},
				Title: ch.Title,
			})
		}
	}
	for _, u := range users {
		if u, ok := u.(*tg.User); ok {
			out = append(out, &Chat{
				ID:       u.ID,
				Peer:     &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
				Title:    strings.TrimSpace(u.FirstName + " " + u.LastName),
				Username: u.Username,
			})
		}
	}
	return out
}

func inputChannel(chat *Chat) (*tg.InputChannel, bool) {
	p, ok := chat.Peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}, true
}

// GetMessages fetches messages by id. Missing ids come back with Empty set.
func (c *Client) GetMessages(ctx context.Context, chat *Chat, ids []int) ([]Message, error) {
	refs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, &tg.InputMessageID{ID: id})
	}

	var res tg.MessagesMessagesClass
	err := c.invoke(ctx, "get messages", func(ctx context.Context, api *tg.Client) error {
		var err error
		if channel, ok := inputChannel(chat); ok {
			res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
				Channel: channel,
				ID:      refs,
			})
		} else {
			res, err = api.MessagesGetMessages(ctx, refs)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, raw := range extractMessages(res) {
		if m, ok := mapMessage(raw); ok {
			if m.ChatID == 0 {
				m.ChatID = chat.ID
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// GetMessage fetches one message.
func (c *Client) GetMessage(ctx context.Context, chat *Chat, id int) (Message, error) {
	msgs, err := c.GetMessages(ctx, chat, []int{id})
	if err != nil {
		return Message{}, err
	}
	for _, m := range msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return Message{ID: id, ChatID: chat.ID, Empty: true}, nil
}

// MediaGroup reports whether msg belongs to an album and returns its members.
func (c *Client) MediaGroup(ctx context.Context, chat *Chat, msg Message) (Membership, []Message, error) {
	if msg.Empty {
		return MembershipUnknown, nil, nil
	}
	if msg.GroupedID == 0 {
		return MembershipStandalone, nil, nil
	}
	candidates, err := c.GetMessages(ctx, chat, albumWindow(msg.ID))
	if err != nil {
		return MembershipUnknown, nil, err
	}
	return MembershipGrouped, groupSiblings(msg, candidates), nil
}

// LinkedChat returns the discussion group attached to a channel.
func (c *Client) LinkedChat(ctx context.Context, chat *Chat) (*Chat, error) {
	channel, ok := inputChannel(chat)
	if !ok {
		return nil, fmt.Errorf("linked chat of %d: %w", chat.ID, apperr.ErrNotFound)
	}

	var full *tg.MessagesChatFull
	err := c.invoke(ctx, "get full channel", func(ctx context.Context, api *tg.Client) error {
		var err error
		full, err = api.ChannelsGetFullChannel(ctx, channel)
		return err
	})
	if err != nil {
		return nil, err
	}

	chFull, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return nil, fmt.Errorf("unexpected channel type")
	}
	linkedID, ok := chFull.GetLinkedChatID()
	if !ok {
		return nil, fmt.Errorf("%d has no discussion group: %w", chat.ID, apperr.ErrNotFound)
	}
	for _, linked := range chatsFromEntities(full.Chats, nil) {
		c.remember(linked)
		if linked.ID == link.MarkChannel(linkedID) {
			return linked, nil
		}
	}
	return nil, fmt.Errorf("discussion group %d: %w", linkedID, apperr.ErrNotFound)
}

// DiscussionReplies returns the comments under a channel post, oldest first.
func (c *Client) DiscussionReplies(ctx context.Context, chat *Chat, postID int) ([]Message, error) {
	var out []Message
	offsetID := 0
	for len(out) < maxReplies {
		var res tg.MessagesMessagesClass
		err := c.invoke(ctx, "get replies", func(ctx context.Context, api *tg.Client) error {
			var err error
			res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
				Peer:     chat.Peer,
				MsgID:    postID,
				OffsetID: offsetID,
				Limit:    historyPageSize,
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		page := extractMessages(res)
		for _, raw := range page {
			if m, ok := mapMessage(raw); ok && !m.Empty {
				out = append(out, m)
				offsetID = m.ID
			}
		}
		if len(page) < historyPageSize {
			break
		}
	}
	slices.Reverse(out)
	return out, nil
}

// History pages through a chat newest first.
// offsetID: start below this message id (0 = newest messages)
func (c *Client) History(ctx context.Context, chat *Chat, offsetID int, limit int) ([]Message, error) {
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}

	var res tg.MessagesMessagesClass
	err := c.invoke(ctx, "get history", func(ctx context.Context, api *tg.Client) error {
		var err error
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     chat.Peer,
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, raw := range extractMessages(res) {
		if m, ok := mapMessage(raw); ok && !m.Empty {
			out = append(out, m)
		}
	}
	return out, nil
}

// Download writes the media of msg to path.
func (c *Client) Download(ctx context.Context, msg Message, path string) error {
	if msg.location == nil {
		return fmt.Errorf("message %d has no downloadable media", msg.ID)
	}
	c.log.Info().Int64("chat_id", msg.ChatID).Int("msg_id", msg.ID).Str("path", path).Msg("telegram: downloading")
	return c.invokeWith(ctx, "download", 0, func(ctx context.Context, api *tg.Client) error {
		_, err := downloader.NewDownloader().Download(api, msg.location).ToPath(ctx, path)
		return err
	})
}

// Upload sends the file at path to target as a document.
func (c *Client) Upload(ctx context.Context, path string, target *Chat) error {
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	c.log.Info().Int64("chat_id", target.ID).Str("path", path).Msg("telegram: uploading")
	return c.invokeWith(ctx, "upload", 0, func(ctx context.Context, api *tg.Client) error {
		up := uploader.NewUploader(api)
		file, err := up.FromPath(ctx, path)
		if err != nil {
			return err
		}
		doc := message.UploadedDocument(file).Filename(name).MIME(mimeType)
		_, err = message.NewSender(api).WithUploader(up).To(target.Peer).Media(ctx, doc)
		return err
	})
}

// Forward copies ids from one chat to another.
func (c *Client) Forward(ctx context.Context, from *Chat, ids []int, to *Chat) error {
	randomIDs := make([]int64, len(ids))
	for i := range randomIDs {
		randomIDs[i] = rand.Int64()
	}
	return c.invoke(ctx, "forward", func(ctx context.Context, api *tg.Client) error {
		_, err := api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from.Peer,
			ID:       ids,
			RandomID: randomIDs,
			ToPeer:   to.Peer,
		})
		return err
	})
}
