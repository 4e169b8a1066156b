package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blockedby/tgfetch/internal/apperr"
)

// MaxRangeSpan caps how many ids one range may cover.
const MaxRangeSpan = 10000

// ExpandRange turns "<base> <start> <end>" into one ?single link per id, inclusive.
func ExpandRange(base, start, end string) ([]string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: missing base link", apperr.ErrInvalidLink)
	}
	if strings.Contains(base, "?") {
		return nil, fmt.Errorf("%w: range base must not carry modifiers", apperr.ErrInvalidLink)
	}
	if _, _, err := Parse(base); err != nil {
		return nil, err
	}

	from, to, err := Bounds(start, end)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, to-from+1)
	for id := from; id <= to; id++ {
		links = append(links, fmt.Sprintf("%s/%d?single", base, id))
	}
	return links, nil
}

// Bounds parses an inclusive id range. Both ends must be positive, ordered
// and at most MaxRangeSpan ids apart.
func Bounds(start, end string) (from, to int, err error) {
	if from, err = rangeBound("start", start); err != nil {
		return 0, 0, err
	}
	if to, err = rangeBound("end", end); err != nil {
		return 0, 0, err
	}
	if from > to {
		return 0, 0, fmt.Errorf("%w: start %d is after end %d", apperr.ErrInvalidRange, from, to)
	}
	if to-from >= MaxRangeSpan {
		return 0, 0, fmt.Errorf("%w: %d ids, at most %d", apperr.ErrInvalidRange, to-from+1, MaxRangeSpan)
	}
	return from, to, nil
}

func rangeBound(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", apperr.ErrInvalidRange, name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", apperr.ErrInvalidRange, name, raw)
	}
	return n, nil
}
