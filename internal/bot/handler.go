package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
	"github.com/blockedby/tgfetch/internal/transfer"
	"github.com/blockedby/tgfetch/internal/wizard"
)

const helpText = `Available commands:
/download <link> [link...] - download messages, albums, comments or topics
/download <link> <start> <end> - download a range of messages
/download_chat <link> - download a whole chat with filters
/upload <path> <target> - upload a file or the files of a directory
/forward <source> <target> <start> <end> - forward a range of messages
/listen_download <link> [link...] - download new messages of chats
/listen_forward <source> <target> - forward new messages of a chat
/listen_info - show listened chats
/listen_cancel <link> - stop listening to a chat
/exit - stop the bot

A plain https://t.me/ link is downloaded as well.`

// Transfers is the transfer service as seen by the bot.
type Transfers interface {
	DownloadLinks(ctx context.Context, links []string) transfer.Summary
	DownloadRange(ctx context.Context, base, start, end string) (transfer.Summary, error)
	Upload(ctx context.Context, path, target string) transfer.Summary
	Forward(ctx context.Context, source, target, start, end string) (transfer.Summary, error)
}

// ChatResolver resolves chat links for listen subscriptions.
type ChatResolver interface {
	ResolveChat(ctx context.Context, ref link.ChatRef) (*telegram.Chat, error)
}

// Handler turns incoming text and button presses into replies.
type Handler struct {
	transfers Transfers
	chats     ChatResolver
	wizard    *wizard.Wizard
	listen    *listen.Registry
	shutdown  func()
	log       *logger.Logger
}

// NewHandler creates a Handler. shutdown is called by /exit.
func NewHandler(transfers Transfers, chats ChatResolver, wz *wizard.Wizard, registry *listen.Registry, shutdown func(), log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Handler{
		transfers: transfers,
		chats:     chats,
		wizard:    wz,
		listen:    registry,
		shutdown:  shutdown,
		log:       log,
	}
}

// HandleText answers a text message sent to the bot in chatID.
func (h *Handler) HandleText(ctx context.Context, chatID int64, text string) Reply {
	cmd, ok := ParseCommand(text)
	if !ok {
		if isLinkText(text) {
			return h.download(ctx, strings.Fields(text))
		}
		return nil
	}

	h.log.Info().Int64("chat_id", chatID).Str("command", cmd.Name).Int("args", len(cmd.Args)).Msg("bot: command")
	switch cmd.Name {
	case "start", "help":
		return Text(helpText)
	case "download":
		return h.download(ctx, cmd.Args)
	case "download_chat":
		return h.downloadChat(chatID, cmd.Args)
	case "upload":
		return h.upload(ctx, cmd.Rest)
	case "forward":
		return h.forward(ctx, cmd.Args)
	case "listen_download":
		return h.listenDownload(ctx, cmd.Args)
	case "listen_forward":
		return h.listenForward(ctx, cmd.Args)
	case "listen_info":
		return h.listenInfo()
	case "listen_cancel":
		return h.listenCancel(ctx, cmd.Args)
	case "exit":
		h.shutdown()
		return Text("Bye.")
	}
	return Text(fmt.Sprintf("Unknown command /%s, see /help.", cmd.Name))
}

func (h *Handler) download(ctx context.Context, args []string) Reply {
	if len(args) == 0 {
		return Text("Usage: /download <link> [link...] or /download <link> <start> <end>")
	}
	if len(args) == 3 && isNumber(args[1]) && isNumber(args[2]) {
		sum, err := h.transfers.DownloadRange(ctx, args[0], args[1], args[2])
		if err != nil {
			return Text(fmt.Sprintf("❌ %v", err))
		}
		return NewText(sum.String())
	}
	return NewText(h.transfers.DownloadLinks(ctx, args).String())
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func (h *Handler) downloadChat(chatID int64, args []string) Reply {
	if len(args) != 1 {
		return Text("Usage: /download_chat <link>")
	}
	if _, _, err := link.Parse(args[0]); err != nil {
		return Text(fmt.Sprintf("❌ %v", err))
	}
	res, err := h.wizard.Begin(chatID, args[0])
	if errors.Is(err, wizard.ErrTaskPending) {
		return Text("A chat download is already open in this chat, finish or cancel it first.")
	}
	if err != nil {
		return Text(fmt.Sprintf("❌ %v", err))
	}
	return Keyboard{View: res.View}
}

func (h *Handler) upload(ctx context.Context, rest string) Reply {
	path, target, ok := splitUpload(rest)
	if !ok {
		return Text("Usage: /upload <path> <target>")
	}
	return NewText(h.transfers.Upload(ctx, path, target).String())
}

func (h *Handler) forward(ctx context.Context, args []string) Reply {
	if len(args) != 4 {
		return Text("Usage: /forward <source> <target> <start> <end>")
	}
	sum, err := h.transfers.Forward(ctx, args[0], args[1], args[2], args[3])
	if err != nil {
		return Text(fmt.Sprintf("❌ %v", err))
	}
	return NewText(sum.String())
}

func (h *Handler) resolve(ctx context.Context, raw string) (*telegram.Chat, error) {
	addr, _, err := link.Parse(raw)
	if err != nil {
		return nil, err
	}
	return h.chats.ResolveChat(ctx, addr.Chat)
}

func (h *Handler) listenDownload(ctx context.Context, args []string) Reply {
	if len(args) == 0 {
		return Text("Usage: /listen_download <link> [link...]")
	}
	var b strings.Builder
	for _, raw := range args {
		chat, err := h.resolve(ctx, raw)
		if err == nil {
			err = h.listen.Subscribe(listen.Subscription{Source: chat.ID, Mode: listen.ModeDownload, SourceLink: raw})
		}
		if err != nil {
			fmt.Fprintf(&b, "❌ %s: %v\n", raw, err)
			continue
		}
		fmt.Fprintf(&b, "👂 Listening to %s\n", raw)
	}
	return NewText(strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) listenForward(ctx context.Context, args []string) Reply {
	if len(args) != 2 {
		return Text("Usage: /listen_forward <source> <target>")
	}
	source, err := h.resolve(ctx, args[0])
	if err != nil {
		return Text(fmt.Sprintf("❌ %s: %v", args[0], err))
	}
	target, err := h.resolve(ctx, args[1])
	if err != nil {
		return Text(fmt.Sprintf("❌ %s: %v", args[1], err))
	}
	err = h.listen.Subscribe(listen.Subscription{
		Source:     source.ID,
		Mode:       listen.ModeForward,
		Target:     target.ID,
		SourceLink: args[0],
		TargetLink: args[1],
	})
	if err != nil {
		return Text(fmt.Sprintf("❌ %v", err))
	}
	return Text(fmt.Sprintf("👂 Forwarding %s ➡️ %s", args[0], args[1]))
}

func (h *Handler) listenInfo() Reply {
	subs := h.listen.List()
	if len(subs) == 0 {
		return Text("Not listening to any chat.")
	}
	var downloads, forwards []string
	for _, s := range subs {
		if s.Mode == listen.ModeForward {
			forwards = append(forwards, fmt.Sprintf("%s ➡️ %s", s.SourceLink, s.TargetLink))
		} else {
			downloads = append(downloads, s.SourceLink)
		}
	}
	var b strings.Builder
	if len(downloads) > 0 {
		b.WriteString("/listen_download\n")
		b.WriteString(strings.Join(downloads, "\n"))
		b.WriteString("\n")
	}
	if len(forwards) > 0 {
		b.WriteString("/listen_forward\n")
		b.WriteString(strings.Join(forwards, "\n"))
	}
	return NewText(strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) listenCancel(ctx context.Context, args []string) Reply {
	if len(args) != 1 {
		return Text("Usage: /listen_cancel <link>")
	}
	chat, err := h.resolve(ctx, args[0])
	if err != nil {
		return Text(fmt.Sprintf("❌ %s: %v", args[0], err))
	}
	sub, ok := h.listen.Remove(chat.ID)
	if !ok {
		return Text(fmt.Sprintf("Not listening to %s.", args[0]))
	}
	return Text(fmt.Sprintf("Stopped %s for %s.", sub.Mode, args[0]))
}

// HandleCallback applies a wizard button press coming from chatID.
func (h *Handler) HandleCallback(ctx context.Context, chatID int64, data string) (Reply, error) {
	owner, ev, err := wizard.ParseEvent(data)
	if err != nil {
		return nil, err
	}
	if owner != chatID {
		return nil, fmt.Errorf("%w: button of chat %d pressed in %d", wizard.ErrBadCallback, owner, chatID)
	}

	res, err := h.wizard.HandleEvent(ctx, chatID, ev)
	switch {
	case errors.Is(err, wizard.ErrNoSession):
		return Keyboard{View: wizard.View{Text: "This chat download is no longer active."}, Edit: true}, nil
	case errors.Is(err, wizard.ErrInvalidDateRange), errors.Is(err, wizard.ErrNoContentTypes), errors.Is(err, wizard.ErrBadEvent):
		return Keyboard{View: res.View, Edit: true, Alert: err.Error()}, nil
	case err != nil:
		return nil, err
	}
	return Keyboard{View: res.View, Edit: true}, nil
}

// CompletionReply renders the end of a chat download.
func CompletionReply(c wizard.Completion) Reply {
	switch {
	case c.Err != nil:
		return Text(fmt.Sprintf("❌ Chat download of %s failed: %v", c.Source, c.Err))
	case c.State == wizard.StateCancelled:
		return Text(fmt.Sprintf("Chat download of %s cancelled: %s", c.Source, c.Report))
	}
	return Text(fmt.Sprintf("✅ Chat download of %s queued: %s", c.Source, c.Report))
}

// NoticeReply renders a finished task, or nil for transitions nobody is told about.
func NoticeReply(rec taskqueue.Record) Reply {
	switch rec.Status {
	case taskqueue.StatusSuccess:
		return Text(fmt.Sprintf("✅ %s finished: %s", rec.Kind, rec.Key))
	case taskqueue.StatusFailure:
		return Text(fmt.Sprintf("❌ %s failed after %d attempt(s): %s\n%s", rec.Kind, rec.Attempt, rec.Key, rec.Err))
	case taskqueue.StatusSkip:
		return Text(fmt.Sprintf("⏭ %s skipped, already present: %s", rec.Kind, rec.Key))
	}
	return nil
}

// ListenFailureReply renders a listen dispatch failure.
func ListenFailureReply(sub listen.Subscription, msg telegram.Message, err error) Reply {
	if errors.Is(err, apperr.ErrDuplicateTask) {
		return nil
	}
	return Text(fmt.Sprintf("❌ %s of message %d from %s failed: %v", sub.Mode, msg.ID, sub.SourceLink, err))
}
