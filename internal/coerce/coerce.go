// Package coerce turns loosely typed upstream values (numbers, numeric
// strings with thousands separators, CSV cells, assorted date formats) into
// canonical Go values. Nothing in here returns an error for bad input: the
// zero value stands in for "no data" and callers decide what that means.
package coerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Number converts v to a finite float64. Strings may carry "," thousands
// separators. Anything unparseable, NaN or infinite yields 0.
func Number(v any) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		f = parseNumeric(string(x))
	case string:
		f = parseNumeric(x)
	case Float:
		f = float64(x)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseNumeric(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Float is a float64 that decodes from JSON numbers, numeric strings, null
// or anything else (the latter two as 0). Provider schemas use it for every
// numeric field so a single odd value never fails a whole payload.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		*f = 0
		return nil
	}
	*f = Float(Number(v))
	return nil
}

// Value returns f as a plain float64.
func (f Float) Value() float64 { return float64(f) }

// First returns the first non-zero value, or 0.
func First(vals ...Float) float64 {
	for _, v := range vals {
		if v != 0 {
			return float64(v)
		}
	}
	return 0
}

// SplitLine splits one unquoted comma-delimited line into trimmed cells.
func SplitLine(line string) []string {
	cells := strings.Split(strings.TrimSpace(line), ",")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

var dayMonAbbrevYear = regexp.MustCompile(`^\s*(\d{1,2})-([A-Za-z]{3})-(\d{4})\s*$`)

var monthAbbrev = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseProviderDate parses "02-Jan-2026" style dates as midnight UTC and
// falls back to a handful of common layouts. Layouts without a zone are
// read as UTC so the calendar day never shifts with the host timezone.
func ParseProviderDate(s string) (time.Time, bool) {
	if m := dayMonAbbrevYear.FindStringSubmatch(s); m != nil {
		mon, ok := monthAbbrev[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, mon, day, 0, 0, 0, 0, time.UTC), true
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatVolume renders a raw volume as a K/M/B scaled string. It reports
// false for NaN or infinite input.
func FormatVolume(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9), true
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6), true
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3), true
	}
	return strconv.FormatFloat(math.Round(v), 'f', -1, 64), true
}
