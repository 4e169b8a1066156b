package bot

import (
	"strings"
	"unicode/utf8"

	"github.com/blockedby/tgfetch/internal/wizard"
)

// MaxMessageRunes is the longest text sent as one message.
const MaxMessageRunes = 3969

// Reply is what a command produces: Text, TextSequence or Keyboard.
type Reply interface {
	reply()
}

// Text is a single message.
type Text string

// TextSequence is a long answer split into consecutive messages.
type TextSequence []string

// Keyboard is a message with inline buttons. Edit replaces the message the
// pressed button belongs to instead of sending a new one.
type Keyboard struct {
	View wizard.View
	Edit bool

	// Alert is shown as the callback answer, if any.
	Alert string
}

func (Text) reply()         {}
func (TextSequence) reply() {}
func (Keyboard) reply()     {}

// NewText wraps s, splitting it when it is too long for one message.
func NewText(s string) Reply {
	if utf8.RuneCountInString(s) <= MaxMessageRunes {
		return Text(s)
	}
	return TextSequence(Split(s, MaxMessageRunes))
}

// Messages flattens a text reply into the messages to send.
func Messages(r Reply) []string {
	switch v := r.(type) {
	case Text:
		return []string{string(v)}
	case TextSequence:
		return v
	case Keyboard:
		return []string{v.View.Text}
	}
	return nil
}

// Split cuts s into chunks of at most limit runes, preferring line breaks.
func Split(s string, limit int) []string {
	var out []string
	for utf8.RuneCountInString(s) > limit {
		cut := runeOffset(s, limit)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			out = append(out, s[:nl])
			s = s[nl+1:]
			continue
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" || len(out) == 0 {
		out = append(out, s)
	}
	return out
}

// runeOffset is the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
