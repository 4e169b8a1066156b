// Package resolver turns parsed link addresses into the concrete messages they point at.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// LinkType classifies what a link resolved to.
type LinkType string

const (
	LinkSingle  LinkType = "single"
	LinkGroup   LinkType = "group"
	LinkComment LinkType = "comment"
	LinkTopic   LinkType = "topic"
)

// ResolvedItem is the outcome of resolving one address.
type ResolvedItem struct {
	LinkType    LinkType
	ChatID      int64
	Chat        *telegram.Chat
	Items       []telegram.Message
	MemberCount int
}

// Service is the part of the telegram client the resolver needs.
type Service interface {
	ResolveChat(ctx context.Context, ref link.ChatRef) (*telegram.Chat, error)
	GetMessage(ctx context.Context, chat *telegram.Chat, id int) (telegram.Message, error)
	MediaGroup(ctx context.Context, chat *telegram.Chat, msg telegram.Message) (telegram.Membership, []telegram.Message, error)
	DiscussionReplies(ctx context.Context, chat *telegram.Chat, postID int) ([]telegram.Message, error)
	LinkedChat(ctx context.Context, chat *telegram.Chat) (*telegram.Chat, error)
}

// Resolver resolves addresses against the messaging service. It keeps no state.
type Resolver struct {
	svc Service
	log *logger.Logger
}

// New creates a Resolver.
func New(svc Service, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{svc: svc, log: log}
}

// ResolveLink parses raw and resolves it.
func (r *Resolver) ResolveLink(ctx context.Context, raw string) (*ResolvedItem, error) {
	addr, flags, err := link.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, addr, flags)
}

// Resolve fetches the messages addr points at and classifies them.
func (r *Resolver) Resolve(ctx context.Context, addr link.Address, flags link.Flags) (*ResolvedItem, error) {
	if addr.PostID == 0 && addr.CommentID == 0 {
		return nil, fmt.Errorf("%w: %s is a chat, not a message", apperr.ErrInvalidLink, addr.Chat)
	}

	chat, err := r.svc.ResolveChat(ctx, addr.Chat)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr.Chat, err)
	}

	if addr.CommentID > 0 && !flags.Comment {
		return r.resolveComment(ctx, chat, addr)
	}

	var replies []telegram.Message
	if flags.Comment && addr.PostID > 0 {
		replies, err = r.mediaReplies(ctx, chat, addr.PostID)
		if err != nil {
			return nil, err
		}
		if flags.Single && addr.CommentID > 0 {
			replies = keepReply(replies, addr.CommentID)
		}
	}

	var primary telegram.Message
	membership := telegram.MembershipUnknown
	var siblings []telegram.Message
	if addr.PostID > 0 {
		primary, err = r.svc.GetMessage(ctx, chat, addr.PostID)
		if err != nil {
			return nil, fmt.Errorf("get message %d: %w", addr.PostID, err)
		}
		membership, siblings = r.membership(ctx, chat, primary, flags)
	}

	if membership == telegram.MembershipUnknown && len(replies) == 0 {
		return nil, fmt.Errorf("%s: %w", link.Canonical(addr), apperr.ErrNotFound)
	}

	item := &ResolvedItem{ChatID: chat.ID, Chat: chat}
	switch {
	case flags.Comment:
		item.LinkType = topicOr(addr, LinkComment)
		if !(flags.Single && addr.CommentID > 0) {
			item.Items = ownItems(membership, primary, siblings)
		}
		item.Items = append(item.Items, replies...)
	case membership == telegram.MembershipGrouped:
		item.LinkType = topicOr(addr, LinkGroup)
		item.Items = siblings
	default:
		item.LinkType = LinkSingle
		item.Items = []telegram.Message{primary}
	}
	item.MemberCount = len(item.Items)

	r.log.Debug().
		Str("link", link.Canonical(addr)).
		Str("type", string(item.LinkType)).
		Int("items", item.MemberCount).
		Msg("resolver: resolved")
	return item, nil
}

// membership looks the primary message up as an album member. An existing
// message whose membership cannot be determined counts as standalone.
func (r *Resolver) membership(ctx context.Context, chat *telegram.Chat, primary telegram.Message, flags link.Flags) (telegram.Membership, []telegram.Message) {
	if primary.Empty {
		return telegram.MembershipUnknown, nil
	}
	if flags.Single {
		return telegram.MembershipStandalone, nil
	}
	membership, siblings, err := r.svc.MediaGroup(ctx, chat, primary)
	if err != nil {
		r.log.Warn().Err(err).Int("msg_id", primary.ID).Msg("resolver: album lookup failed, treating as standalone")
		return telegram.MembershipStandalone, nil
	}
	if membership == telegram.MembershipGrouped && len(siblings) > 0 {
		return membership, siblings
	}
	return telegram.MembershipStandalone, nil
}

// resolveComment fetches one reply from the channel's discussion group.
func (r *Resolver) resolveComment(ctx context.Context, chat *telegram.Chat, addr link.Address) (*ResolvedItem, error) {
	group, err := r.svc.LinkedChat(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("discussion group of %s: %w", addr.Chat, err)
	}
	msg, err := r.svc.GetMessage(ctx, group, addr.CommentID)
	if err != nil {
		return nil, fmt.Errorf("get comment %d: %w", addr.CommentID, err)
	}
	if msg.Empty {
		return nil, fmt.Errorf("%s: %w", link.Canonical(addr), apperr.ErrNotFound)
	}
	return &ResolvedItem{
		LinkType:    LinkSingle,
		ChatID:      group.ID,
		Chat:        group,
		Items:       []telegram.Message{msg},
		MemberCount: 1,
	}, nil
}

// mediaReplies returns the discussion replies under postID that carry media.
// A post without a discussion thread has no replies.
func (r *Resolver) mediaReplies(ctx context.Context, chat *telegram.Chat, postID int) ([]telegram.Message, error) {
	all, err := r.svc.DiscussionReplies(ctx, chat, postID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replies of %d: %w", postID, err)
	}
	out := make([]telegram.Message, 0, len(all))
	for _, m := range all {
		if m.HasMedia() {
			out = append(out, m)
		}
	}
	return out, nil
}

func keepReply(replies []telegram.Message, id int) []telegram.Message {
	for _, m := range replies {
		if m.ID == id {
			return []telegram.Message{m}
		}
	}
	return nil
}

func ownItems(membership telegram.Membership, primary telegram.Message, siblings []telegram.Message) []telegram.Message {
	switch membership {
	case telegram.MembershipGrouped:
		return append([]telegram.Message(nil), siblings...)
	case telegram.MembershipStandalone:
		return []telegram.Message{primary}
	}
	return nil
}

func topicOr(addr link.Address, t LinkType) LinkType {
	if addr.TopicID > 0 {
		return LinkTopic
	}
	return t
}
