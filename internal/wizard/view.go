package wizard

import (
	"fmt"
	"strconv"
	"time"

	"github.com/blockedby/tgfetch/internal/telegram"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// View is a rendered wizard screen.
type View struct {
	Text string
	Rows [][]Button
}

var weekdays = []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}

func (w *Wizard) render(s *Session) View {
	btn := func(text string, ev Event) Button {
		return Button{Text: text, Data: ev.Encode(s.ChatID)}
	}
	header := fmt.Sprintf("Chat filter for %s\n%s", s.Source, s.Filter)

	switch s.State {
	case StateExecuting:
		return View{Text: header + "\n\nDownloading...", Rows: [][]Button{
			{btn("Cancel", Event{Verb: VerbCancel})},
		}}
	case StateCancelled:
		return View{Text: header + "\n\nCancelled."}
	case StateCompleted:
		return View{Text: header + "\n\nDone."}
	}

	switch s.screen {
	case screenDate:
		return View{Text: header + "\n\nPick the date range.", Rows: [][]Button{
			{btn("Start: "+formatBound(s.Filter.DateRange.Start), Event{Verb: VerbPick, Side: SideStart})},
			{btn("End: "+formatBound(s.Filter.DateRange.End), Event{Verb: VerbPick, Side: SideEnd})},
			{
				btn("Clear start", Event{Verb: VerbClear, Side: SideStart}),
				btn("Clear end", Event{Verb: VerbClear, Side: SideEnd}),
			},
			{btn("Back", Event{Verb: VerbMenu})},
		}}

	case screenCalendar:
		return w.renderCalendar(s, header, btn)

	case screenTime:
		side := s.side
		value := formatBound(s.bound(side))
		step := strconv.Itoa(s.Filter.DateRange.Step)
		return View{Text: fmt.Sprintf("%s\n\n%s: %s", header, sideName(side), value), Rows: [][]Button{
			{
				btn("H +"+step, Event{Verb: VerbTime, Side: side, Arg: "h+"}),
				btn("M +"+step, Event{Verb: VerbTime, Side: side, Arg: "m+"}),
				btn("S +"+step, Event{Verb: VerbTime, Side: side, Arg: "s+"}),
			},
			{
				btn("H -"+step, Event{Verb: VerbTime, Side: side, Arg: "h-"}),
				btn("M -"+step, Event{Verb: VerbTime, Side: side, Arg: "m-"}),
				btn("S -"+step, Event{Verb: VerbTime, Side: side, Arg: "s-"}),
			},
			{btn("Step: "+step, Event{Verb: VerbStep, Side: side})},
			{btn("Done", Event{Verb: VerbDate})},
		}}

	case screenTypes:
		var rows [][]Button
		var row []Button
		for _, k := range telegram.MediaKinds() {
			mark := "❌ "
			if s.Filter.ContentTypes[k] {
				mark = "✅ "
			}
			row = append(row, btn(mark+string(k), Event{Verb: VerbToggle, Arg: string(k)}))
			if len(row) == 2 {
				rows = append(rows, row)
				row = nil
			}
		}
		rows = append(rows, []Button{btn("Back", Event{Verb: VerbMenu})})
		return View{Text: header + "\n\nToggle content types.", Rows: rows}
	}

	return View{Text: header, Rows: [][]Button{
		{btn("📅 Date range", Event{Verb: VerbDate})},
		{btn("🗂 Content types", Event{Verb: VerbTypes})},
		{btn("▶️ Start", Event{Verb: VerbOK}), btn("✖️ Cancel", Event{Verb: VerbCancel})},
	}}
}

func (w *Wizard) renderCalendar(s *Session, header string, btn func(string, Event) Button) View {
	month := fmt.Sprintf("%04d-%02d", s.year, int(s.month))
	noop := Event{Verb: VerbNoop}

	rows := [][]Button{{
		btn("«", Event{Verb: VerbPrev, Side: s.side, Arg: month}),
		btn(fmt.Sprintf("%s %d", s.month, s.year), noop),
		btn("»", Event{Verb: VerbNext, Side: s.side, Arg: month}),
	}}
	names := make([]Button, 0, len(weekdays))
	for _, d := range weekdays {
		names = append(names, btn(d, noop))
	}
	rows = append(rows, names)

	for _, week := range MonthGrid(s.year, s.month) {
		row := make([]Button, 0, 7)
		for _, day := range week {
			if day == 0 {
				row = append(row, btn(" ", noop))
				continue
			}
			date := time.Date(s.year, s.month, day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
			row = append(row, btn(strconv.Itoa(day), Event{Verb: VerbDay, Side: s.side, Arg: date}))
		}
		rows = append(rows, row)
	}
	rows = append(rows, []Button{btn("Back", Event{Verb: VerbDate})})

	return View{Text: fmt.Sprintf("%s\n\nPick the %s day.", header, sideName(s.side)), Rows: rows}
}

func sideName(side Side) string {
	if side == SideEnd {
		return "end"
	}
	return "start"
}
