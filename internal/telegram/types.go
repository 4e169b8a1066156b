package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// MediaKind is the downloadable content kind of a message.
type MediaKind string

// The six recognised content kinds. A message without one of them is text only.
const (
	MediaVideo     MediaKind = "video"
	MediaPhoto     MediaKind = "photo"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
)

// MediaKinds lists every kind in display order.
func MediaKinds() []MediaKind {
	return []MediaKind{MediaVideo, MediaPhoto, MediaDocument, MediaAudio, MediaVoice, MediaAnimation}
}

// Message represents a parsed telegram message
type Message struct {
	ID        int       // message id (unique within chat)
	ChatID    int64     // marked chat id, -100<channel> for channels
	Text      string    // message text or caption
	Date      time.Time // message creation timestamp
	GroupedID int64     // album id, 0 when standalone
	TopicID   int       // forum topic id, 0 outside forums
	Media     MediaKind // empty for text only messages
	FileName  string    // suggested file name for the media
	Size      int64     // media size in bytes
	Empty     bool      // deleted or inaccessible id

	location tg.InputFileLocationClass
}

// HasMedia reports whether the message carries downloadable content.
func (m Message) HasMedia() bool {
	return m.Media != ""
}

// Chat is a resolved peer.
type Chat struct {
	ID        int64 // marked id
	Peer      tg.InputPeerClass
	Title     string
	Username  string // without @
	Broadcast bool   // channel, as opposed to a group
}

// Membership is the outcome of an album lookup.
type Membership int

const (
	// MembershipUnknown means the service could not tell, usually because
	// the primary message itself is missing.
	MembershipUnknown Membership = iota
	MembershipStandalone
	MembershipGrouped
)

func (m Membership) String() string {
	switch m {
	case MembershipStandalone:
		return "standalone"
	case MembershipGrouped:
		return "grouped"
	default:
		return "unknown"
	}
}
