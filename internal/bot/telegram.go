package bot

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/wizard"
)

// outbox delivers rendered replies.
type outbox interface {
	send(chatID int64, text string, markup tg.ReplyMarkupClass) error
	edit(chatID int64, msgID int, text string, markup tg.ReplyMarkupClass) error
}

// extOutbox sends through a gotgproto context.
type extOutbox struct {
	ctx *ext.Context
}

func (o extOutbox) send(chatID int64, text string, markup tg.ReplyMarkupClass) error {
	_, err := o.ctx.SendMessage(chatID, &tg.MessagesSendMessageRequest{Message: text, ReplyMarkup: markup})
	return err
}

func (o extOutbox) edit(chatID int64, msgID int, text string, markup tg.ReplyMarkupClass) error {
	_, err := o.ctx.EditMessage(chatID, &tg.MessagesEditMessageRequest{ID: msgID, Message: text, ReplyMarkup: markup})
	return err
}

// Bot connects a Handler to the bot account.
type Bot struct {
	client  *gotgproto.Client
	handler *Handler
	allowed map[int64]bool
	log     *logger.Logger
}

// New creates a Bot. Only users in allowed may talk to it.
func New(client *gotgproto.Client, handler *Handler, allowed []int64, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.Nop()
	}
	set := make(map[int64]bool, len(allowed))
	for _, id := range allowed {
		set[id] = true
	}
	if len(set) == 0 {
		log.Warn().Msg("bot: no allowed users, every message will be ignored")
	}
	return &Bot{client: client, handler: handler, allowed: set, log: log}
}

// Register adds the message and button handlers to the bot dispatcher.
func (b *Bot) Register() {
	b.client.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.Text, b.onMessage))
	b.client.Dispatcher.AddHandler(handlers.NewCallbackQuery(filters.CallbackQuery.Prefix(wizard.CallbackPrefix), b.onCallback))
	b.log.Info().Int("allowed_users", len(b.allowed)).Msg("bot: handlers registered")
}

func (b *Bot) onMessage(ctx *ext.Context, u *ext.Update) error {
	user := u.EffectiveUser()
	if user == nil || !b.allowed[user.ID] || u.EffectiveMessage == nil {
		return nil
	}
	chatID := u.EffectiveChat().GetID()
	reply := b.handler.HandleText(ctx, chatID, u.EffectiveMessage.Text)
	if reply == nil {
		return nil
	}
	if err := deliver(extOutbox{ctx}, chatID, 0, reply); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: reply failed")
	}
	return nil
}

func (b *Bot) onCallback(ctx *ext.Context, u *ext.Update) error {
	q := u.CallbackQuery
	if q == nil {
		return nil
	}
	answer := &tg.MessagesSetBotCallbackAnswerRequest{QueryID: q.QueryID}
	defer func() {
		if _, err := ctx.AnswerCallback(answer); err != nil {
			b.log.Debug().Err(err).Msg("bot: answer callback")
		}
	}()
	if !b.allowed[q.UserID] {
		return nil
	}

	chatID := peerID(q.Peer)
	reply, err := b.handler.HandleCallback(ctx, chatID, string(q.Data))
	if err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("bot: callback rejected")
		answer.Message = err.Error()
		return nil
	}
	if kb, ok := reply.(Keyboard); ok && kb.Alert != "" {
		answer.Message = kb.Alert
		answer.Alert = true
	}
	if err := deliver(extOutbox{ctx}, chatID, q.MsgID, reply); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: keyboard update failed")
	}
	return nil
}

// Send delivers a reply outside of any incoming update.
func (b *Bot) Send(_ context.Context, chatID int64, r Reply) error {
	if r == nil {
		return nil
	}
	return deliver(extOutbox{b.client.CreateContext()}, chatID, 0, r)
}

// Broadcast sends r to every allowed user.
func (b *Bot) Broadcast(ctx context.Context, r Reply) {
	for id := range b.allowed {
		if err := b.Send(ctx, id, r); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", id).Msg("bot: notice failed")
		}
	}
}

// deliver sends r. Keyboards with Edit replace message msgID.
func deliver(out outbox, chatID int64, msgID int, r Reply) error {
	if kb, ok := r.(Keyboard); ok {
		markup := inlineMarkup(kb.View.Rows)
		if kb.Edit && msgID != 0 {
			return out.edit(chatID, msgID, kb.View.Text, markup)
		}
		return out.send(chatID, kb.View.Text, markup)
	}
	for i, text := range Messages(r) {
		if text == "" {
			continue
		}
		if err := out.send(chatID, text, nil); err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	return nil
}

// inlineMarkup converts keyboard rows. Telegram rejects an empty keyboard, so
// no rows gives nil.
func inlineMarkup(rows [][]wizard.Button) tg.ReplyMarkupClass {
	if len(rows) == 0 {
		return nil
	}
	markup := &tg.ReplyInlineMarkup{Rows: make([]tg.KeyboardButtonRow, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, &tg.KeyboardButtonCallback{Text: btn.Text, Data: []byte(btn.Data)})
		}
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{Buttons: buttons})
	}
	return markup
}

func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return -v.ChatID
	case *tg.PeerChannel:
		return link.MarkChannel(v.ChannelID)
	}
	return 0
}
