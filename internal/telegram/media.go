package telegram

import (
	"fmt"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tgfetch/internal/link"
)

var defaultExt = map[MediaKind]string{
	MediaVideo:     ".mp4",
	MediaPhoto:     ".jpg",
	MediaDocument:  ".bin",
	MediaAudio:     ".mp3",
	MediaVoice:     ".ogg",
	MediaAnimation: ".mp4",
}

// peerChatID converts a peer to its marked chat id.
func peerChatID(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerChannel:
		return link.MarkChannel(p.ChannelID)
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerUser:
		return p.UserID
	}
	return 0
}

// mapMessage converts a raw message to our Message type.
// ok is false for classes we never hand out.
func mapMessage(msg tg.MessageClass) (Message, bool) {
	switch m := msg.(type) {
	case *tg.MessageEmpty:
		out := Message{ID: m.ID, Empty: true}
		if p, ok := m.GetPeerID(); ok {
			out.ChatID = peerChatID(p)
		}
		return out, true
	case *tg.MessageService:
		return Message{ID: m.ID, ChatID: peerChatID(m.PeerID), Date: time.Unix(int64(m.Date), 0)}, true
	case *tg.Message:
		out := Message{
			ID:        m.ID,
			ChatID:    peerChatID(m.PeerID),
			Text:      m.Message,
			Date:      time.Unix(int64(m.Date), 0),
			GroupedID: m.GroupedID,
		}
		// forum messages carry their topic in the reply header
		if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && h.ForumTopic {
			out.TopicID = h.ReplyToTopID
			if out.TopicID == 0 {
				out.TopicID = h.ReplyToMsgID
			}
		}
		applyMedia(&out, m.Media)
		return out, true
	}
	return Message{}, false
}

func applyMedia(out *Message, media tg.MessageMediaClass) {
	switch media := media.(type) {
	case *tg.MessageMediaPhoto:
		p, ok := media.Photo.(*tg.Photo)
		if !ok {
			return
		}
		thumb, size := largestPhotoSize(p.Sizes)
		if thumb == "" {
			return
		}
		out.Media = MediaPhoto
		out.Size = size
		out.FileName = fmt.Sprintf("%d%s", p.ID, defaultExt[MediaPhoto])
		out.location = &tg.InputPhotoFileLocation{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
			ThumbSize:     thumb,
		}
	case *tg.MessageMediaDocument:
		d, ok := media.Document.(*tg.Document)
		if !ok {
			return
		}
		out.Media, out.FileName = documentKind(d)
		if out.FileName == "" {
			out.FileName = fmt.Sprintf("%d%s", d.ID, extensionFor(out.Media, d.MimeType))
		}
		out.Size = d.Size
		out.location = &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}
	}
}

func documentKind(d *tg.Document) (MediaKind, string) {
	var (
		name                           string
		animated, video, voice, audio bool
	)
	for _, attr := range d.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			name = a.FileName
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeVideo:
			video = true
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				voice = true
			} else {
				audio = true
			}
		}
	}
	switch {
	case animated:
		return MediaAnimation, name
	case video || strings.HasPrefix(d.MimeType, "video/"):
		return MediaVideo, name
	case voice:
		return MediaVoice, name
	case audio || strings.HasPrefix(d.MimeType, "audio/"):
		return MediaAudio, name
	}
	return MediaDocument, name
}

func extensionFor(kind MediaKind, mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return defaultExt[kind]
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int64) {
	var (
		best     string
		bestSize int64
	)
	for _, s := range sizes {
		switch s := s.(type) {
		case *tg.PhotoSize:
			if int64(s.Size) >= bestSize {
				best, bestSize = s.Type, int64(s.Size)
			}
		case *tg.PhotoSizeProgressive:
			for _, n := range s.Sizes {
				if int64(n) >= bestSize {
					best, bestSize = s.Type, int64(n)
				}
			}
		}
	}
	return best, bestSize
}

// groupSiblings picks the album members of msg out of candidates, in id order.
func groupSiblings(msg Message, candidates []Message) []Message {
	var out []Message
	for _, c := range candidates {
		if !c.Empty && c.GroupedID == msg.GroupedID {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []Message{msg}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// albumWindow is the id span searched for siblings of an album member.
// Albums hold at most ten items, so ten ids either side is enough.
func albumWindow(id int) []int {
	ids := make([]int, 0, 20)
	for i := id - 9; i <= id+10; i++ {
		if i > 0 {
			ids = append(ids, i)
		}
	}
	return ids
}

func extractMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages
	case *tg.MessagesMessagesSlice:
		return h.Messages
	case *tg.MessagesMessages:
		return h.Messages
	}
	return nil
}
