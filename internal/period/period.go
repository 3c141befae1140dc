// Package period owns the mapping from chart period marks ("5m", "1h", ...)
// to bucket durations in seconds. The aggregation core only ever receives
// the resolved integer; unknown marks are rejected here.
package period

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnknownPeriod is returned for marks outside the configured table.
var ErrUnknownPeriod = errors.New("unknown period")

// DefaultMarks are the marks enabled when no configuration overrides them.
var DefaultMarks = []string{"1m", "5m", "30m", "1h", "5h", "8h", "12h", "1d", "1w"}

var unitSeconds = map[byte]int64{
	'm': 60,
	'h': 60 * 60,
	'd': 24 * 60 * 60,
	'w': 7 * 24 * 60 * 60,
}

// ParseMark converts a mark of the form <count><unit> (unit one of m, h, d, w)
// into seconds.
func ParseMark(mark string) (int64, error) {
	if len(mark) < 2 {
		return 0, fmt.Errorf("period mark %q: too short", mark)
	}
	unit, ok := unitSeconds[mark[len(mark)-1]]
	if !ok {
		return 0, fmt.Errorf("period mark %q: unit must be one of m, h, d, w", mark)
	}
	n, err := strconv.ParseInt(mark[:len(mark)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("period mark %q: count must be a positive integer", mark)
	}
	return n * unit, nil
}

// Table is a fixed enumeration of accepted marks.
type Table struct {
	seconds map[string]int64
}

// NewTable builds a table from the given marks.
func NewTable(marks []string) (*Table, error) {
	t := &Table{seconds: make(map[string]int64, len(marks))}
	if err := t.Merge(marks); err != nil {
		return nil, err
	}
	return t, nil
}

// Default returns a table with DefaultMarks.
func Default() *Table {
	t, err := NewTable(DefaultMarks)
	if err != nil {
		panic(err) // DefaultMarks are constants
	}
	return t
}

// Merge adds marks to the table. Nothing is added if any mark is invalid.
func (t *Table) Merge(marks []string) error {
	parsed := make(map[string]int64, len(marks))
	for _, m := range marks {
		s, err := ParseMark(m)
		if err != nil {
			return err
		}
		parsed[m] = s
	}
	for m, s := range parsed {
		t.seconds[m] = s
	}
	return nil
}

// Seconds resolves a mark.
func (t *Table) Seconds(mark string) (int64, error) {
	s, ok := t.seconds[mark]
	if !ok {
		return 0, fmt.Errorf("%w %q, must be any of %v", ErrUnknownPeriod, mark, t.Marks())
	}
	return s, nil
}

// Mark returns the mark for a duration in seconds, or "" if none matches.
func (t *Table) Mark(seconds int64) string {
	for _, m := range t.Marks() {
		if t.seconds[m] == seconds {
			return m
		}
	}
	return ""
}

// Marks returns all marks ordered by duration.
func (t *Table) Marks() []string {
	marks := make([]string, 0, len(t.seconds))
	for m := range t.seconds {
		marks = append(marks, m)
	}
	sort.Slice(marks, func(i, j int) bool {
		if t.seconds[marks[i]] != t.seconds[marks[j]] {
			return t.seconds[marks[i]] < t.seconds[marks[j]]
		}
		return marks[i] < marks[j]
	})
	return marks
}
