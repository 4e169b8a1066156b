// Package link parses t.me message links into addresses.
package link

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/blockedby/tgfetch/internal/apperr"
)

// channelIDOffset is the -100 prefix telegram uses for supergroup and channel ids.
const channelIDOffset int64 = 1_000_000_000_000

var knownHosts = map[string]bool{
	"t.me":         true,
	"telegram.me":  true,
	"telegram.dog": true,
}

// ChatRef identifies a chat either by public username or by numeric id.
type ChatRef struct {
	ID       int64  // marked id, -100<channel> for channels
	Username string // without @, "me"/"self" for saved messages
}

// IsSelf reports whether the ref points at the account's own chat.
func (c ChatRef) IsSelf() bool {
	return c.Username == "me" || c.Username == "self"
}

func (c ChatRef) String() string {
	if c.Username != "" {
		return c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

// Address is the canonical form of a message reference. Zero ids mean absent.
type Address struct {
	Chat      ChatRef
	PostID    int
	CommentID int
	TopicID   int
}

// Flags are the modifiers stripped from a link before grammar matching.
type Flags struct {
	Single  bool // treat as one message even inside an album
	Comment bool // also fetch discussion replies under the post
}

// Parse converts raw link text into an Address.
func Parse(raw string) (Address, Flags, error) {
	raw = strings.TrimSpace(raw)
	if raw == "me" || raw == "self" {
		return Address{Chat: ChatRef{Username: raw}}, Flags{}, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, Flags{}, fmt.Errorf("%w: %v", apperr.ErrInvalidLink, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if (u.Scheme != "https" && u.Scheme != "http") || !knownHosts[host] {
		return Address{}, Flags{}, fmt.Errorf("%w: unsupported host %q", apperr.ErrInvalidLink, u.Host)
	}

	var flags Flags
	commentID := 0
	for _, part := range strings.Split(u.RawQuery, "&") {
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "":
		case "single":
			flags.Single = true
		case "comment":
			if value == "" {
				flags.Comment = true
				continue
			}
			if commentID, err = parseID(value); err != nil {
				return Address{}, Flags{}, err
			}
		}
	}

	var paths []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			paths = append(paths, p)
		}
	}

	addr, err := match(paths, commentID)
	if err != nil {
		return Address{}, Flags{}, err
	}
	return addr, flags, nil
}

func match(paths []string, commentID int) (Address, error) {
	var (
		addr Address
		err  error
	)
	if len(paths) == 0 {
		return addr, fmt.Errorf("%w: empty path", apperr.ErrInvalidLink)
	}
	private := paths[0] == "c"

	if commentID != 0 {
		rest := paths
		if private {
			if len(paths) < 2 {
				return addr, fmt.Errorf("%w: missing channel id", apperr.ErrInvalidLink)
			}
			if addr.Chat, err = privateChat(paths[1]); err != nil {
				return addr, err
			}
			rest = paths[2:]
		} else {
			if addr.Chat, err = aliasChat(paths[0]); err != nil {
				return addr, err
			}
			rest = paths[1:]
		}
		addr.CommentID = commentID
		if len(rest) > 0 {
			addr.PostID, err = parseID(rest[len(rest)-1])
		}
		return addr, err
	}

	switch {
	case len(paths) == 1 && !private:
		addr.Chat, err = aliasChat(paths[0])
	case len(paths) == 2 && private:
		addr.Chat, err = privateChat(paths[1])
	case len(paths) == 2:
		if addr.Chat, err = aliasChat(paths[0]); err == nil {
			addr.PostID, err = parseID(paths[1])
		}
	case len(paths) == 3 && private:
		if addr.Chat, err = privateChat(paths[1]); err == nil {
			addr.PostID, err = parseID(paths[2])
		}
	case len(paths) == 3:
		if addr.Chat, err = aliasChat(paths[0]); err == nil {
			if addr.TopicID, err = parseID(paths[1]); err == nil {
				addr.PostID, err = parseID(paths[2])
			}
		}
	case len(paths) == 4 && private:
		if addr.Chat, err = privateChat(paths[1]); err == nil {
			if addr.TopicID, err = parseID(paths[2]); err == nil {
				addr.PostID, err = parseID(paths[3])
			}
		}
	default:
		err = fmt.Errorf("%w: unsupported path %q", apperr.ErrInvalidLink, strings.Join(paths, "/"))
	}
	return addr, err
}

func aliasChat(seg string) (ChatRef, error) {
	for _, r := range seg {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return ChatRef{}, fmt.Errorf("%w: bad username %q", apperr.ErrInvalidLink, seg)
		}
	}
	return ChatRef{Username: seg}, nil
}

func privateChat(seg string) (ChatRef, error) {
	n, err := strconv.ParseInt(seg, 10, 64)
	if err != nil || n <= 0 || n >= channelIDOffset {
		return ChatRef{}, fmt.Errorf("%w: bad channel id %q", apperr.ErrInvalidLink, seg)
	}
	return ChatRef{ID: MarkChannel(n)}, nil
}

func parseID(seg string) (int, error) {
	n, err := strconv.Atoi(seg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad id %q", apperr.ErrInvalidLink, seg)
	}
	return n, nil
}

// MarkChannel converts a bare channel id to its -100 prefixed form.
func MarkChannel(channelID int64) int64 {
	return -channelIDOffset - channelID
}

// ChannelID reverses MarkChannel. ok is false for ids outside the channel range.
func ChannelID(chatID int64) (int64, bool) {
	if chatID >= -channelIDOffset {
		return 0, false
	}
	return -chatID - channelIDOffset, true
}

// Canonical renders addr back as an https://t.me link.
func Canonical(addr Address) string {
	var b strings.Builder
	b.WriteString("https://t.me/")
	if ch, ok := ChannelID(addr.Chat.ID); ok && addr.Chat.Username == "" {
		fmt.Fprintf(&b, "c/%d", ch)
	} else {
		b.WriteString(addr.Chat.String())
	}
	if addr.TopicID != 0 {
		fmt.Fprintf(&b, "/%d", addr.TopicID)
	}
	if addr.PostID != 0 {
		fmt.Fprintf(&b, "/%d", addr.PostID)
	}
	if addr.CommentID != 0 {
		fmt.Fprintf(&b, "?comment=%d", addr.CommentID)
	}
	return b.String()
}

// MessageKey is the dedup key of a single message in a chat.
func MessageKey(chatID int64, msgID int) string {
	if ch, ok := ChannelID(chatID); ok {
		return fmt.Sprintf("https://t.me/c/%d/%d", ch, msgID)
	}
	return fmt.Sprintf("tg://chat/%d/%d", chatID, msgID)
}
