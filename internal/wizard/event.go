package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CallbackPrefix starts every wizard callback payload.
const CallbackPrefix = "wz:"

// MaxCallbackData is the size ceiling telegram puts on callback payloads.
const MaxCallbackData = 64

// Verbs understood by HandleEvent.
const (
	VerbMenu   = "menu"
	VerbDate   = "date"
	VerbTypes  = "types"
	VerbPick   = "pick"
	VerbPrev   = "prev"
	VerbNext   = "next"
	VerbDay    = "day"
	VerbTime   = "time"
	VerbStep   = "step"
	VerbClear  = "clear"
	VerbToggle = "tog"
	VerbOK     = "ok"
	VerbCancel = "x"
	VerbNoop   = "nop"
)

// Side selects the range bound an event edits.
type Side string

const (
	SideStart Side = "s"
	SideEnd   Side = "e"
)

var sided = map[string]bool{
	VerbPick: true, VerbPrev: true, VerbNext: true, VerbDay: true,
	VerbTime: true, VerbStep: true, VerbClear: true,
}

// ErrBadCallback is returned for payloads that are not wizard events.
var ErrBadCallback = errors.New("malformed wizard callback")

// Event is one decoded keyboard press.
type Event struct {
	Verb string
	Side Side
	Arg  string
}

// Encode renders the callback payload for chatID.
func (e Event) Encode(chatID int64) string {
	parts := []string{strconv.FormatInt(chatID, 10), e.Verb}
	if e.Side != "" {
		parts = append(parts, string(e.Side))
	}
	if e.Arg != "" {
		parts = append(parts, e.Arg)
	}
	return CallbackPrefix + strings.Join(parts, ":")
}

// ParseEvent decodes a callback payload produced by Encode.
func ParseEvent(data string) (int64, Event, error) {
	rest, ok := strings.CutPrefix(data, CallbackPrefix)
	if !ok || len(data) > MaxCallbackData {
		return 0, Event{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return 0, Event{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, Event{}, fmt.Errorf("%w: chat %q", ErrBadCallback, parts[0])
	}

	ev := Event{Verb: parts[1]}
	args := parts[2:]
	if sided[ev.Verb] {
		if len(args) == 0 || (Side(args[0]) != SideStart && Side(args[0]) != SideEnd) {
			return 0, Event{}, fmt.Errorf("%w: %s needs a side", ErrBadCallback, ev.Verb)
		}
		ev.Side = Side(args[0])
		args = args[1:]
	}
	switch len(args) {
	case 0:
	case 1:
		ev.Arg = args[0]
	default:
		return 0, Event{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	return chatID, ev, nil
}
