package wizard

import (
	"slices"
	"strings"
	"time"

	"github.com/blockedby/tgfetch/internal/telegram"
)

// Steps is the nudge step cycle of the time keyboard.
var Steps = []int{1, 5, 10, 15, 30}

// DateRange bounds a chat job. A nil end is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
	Step  int
}

// Contains reports whether t falls inside the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Before reports whether t is older than the range start. History is read
// newest first, so the first such message ends the scan.
func (r DateRange) Before(t time.Time) bool {
	return r.Start != nil && t.Before(*r.Start)
}

// ChatFilter selects the messages of a bulk chat download.
type ChatFilter struct {
	DateRange    DateRange
	ContentTypes map[telegram.MediaKind]bool
}

// NewChatFilter returns a filter with every content type enabled and no date bounds.
func NewChatFilter() ChatFilter {
	types := make(map[telegram.MediaKind]bool, len(telegram.MediaKinds()))
	for _, k := range telegram.MediaKinds() {
		types[k] = true
	}
	return ChatFilter{
		DateRange:    DateRange{Step: Steps[0]},
		ContentTypes: types,
	}
}

// Match reports whether msg should be downloaded.
func (f ChatFilter) Match(msg telegram.Message) bool {
	if msg.Empty || !msg.HasMedia() {
		return false
	}
	return f.ContentTypes[msg.Media] && f.DateRange.Contains(msg.Date)
}

// Enabled lists the enabled content types in display order.
func (f ChatFilter) Enabled() []telegram.MediaKind {
	var out []telegram.MediaKind
	for _, k := range telegram.MediaKinds() {
		if f.ContentTypes[k] {
			out = append(out, k)
		}
	}
	return out
}

// Clone returns a deep copy, so the executor never shares state with the session.
func (f ChatFilter) Clone() ChatFilter {
	out := ChatFilter{DateRange: DateRange{Step: f.DateRange.Step}}
	if f.DateRange.Start != nil {
		s := *f.DateRange.Start
		out.DateRange.Start = &s
	}
	if f.DateRange.End != nil {
		e := *f.DateRange.End
		out.DateRange.End = &e
	}
	out.ContentTypes = make(map[telegram.MediaKind]bool, len(f.ContentTypes))
	for k, v := range f.ContentTypes {
		out.ContentTypes[k] = v
	}
	return out
}

func (f ChatFilter) String() string {
	var b strings.Builder
	b.WriteString("Date: ")
	b.WriteString(formatBound(f.DateRange.Start))
	b.WriteString(" - ")
	b.WriteString(formatBound(f.DateRange.End))
	b.WriteString("\nTypes: ")
	enabled := f.Enabled()
	if len(enabled) == 0 {
		b.WriteString("none")
	}
	for i, k := range enabled {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(k))
	}
	return b.String()
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "any"
	}
	return t.Format(time.DateTime)
}

func nextStep(step int) int {
	i := slices.Index(Steps, step)
	return Steps[(i+1)%len(Steps)]
}
