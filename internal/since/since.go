// Package since parses the lower bound of --since filters.
//
// Accepted forms are bare or "ago" durations ("90m", "2h ago", "3d", "1w",
// "1mo"), the words today and yesterday, weekday names (the most recent one,
// today included, or a week earlier with "last"), calendar dates and RFC3339
// timestamps. Anything that resolves to the future is rejected.
package since

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationExpr = regexp.MustCompile(`^(\d+)\s*(mo|w|d|h|m)(?:\s+ago)?$`)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ErrFuture is returned for expressions after now.
var ErrFuture = errors.New("time is in the future")

// Parse resolves expr relative to now.
func Parse(expr string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return time.Time{}, errors.New("empty time expression")
	}
	t, err := parse(strings.ToLower(raw), raw, now)
	if err != nil {
		return time.Time{}, err
	}
	if t.After(now) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrFuture, t.Format(time.RFC3339))
	}
	return t, nil
}

func parse(lower, raw string, now time.Time) (time.Time, error) {
	switch lower {
	case "today":
		return midnight(now), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}

	if m := durationExpr.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, fmt.Errorf("invalid duration %q", raw)
		}
		return back(now, n, m[2]), nil
	}

	if t, ok := weekday(lower, now); ok {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time expression %q", raw)
}

func back(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "mo":
		return now.AddDate(0, -n, 0)
	case "w":
		return now.AddDate(0, 0, -7*n)
	case "d":
		return now.AddDate(0, 0, -n)
	case "h":
		return now.Add(-time.Duration(n) * time.Hour)
	default:
		return now.Add(-time.Duration(n) * time.Minute)
	}
}

func weekday(lower string, now time.Time) (time.Time, bool) {
	name, last := strings.CutPrefix(lower, "last ")
	wd, ok := weekdays[strings.TrimSpace(name)]
	if !ok {
		return time.Time{}, false
	}
	today := midnight(now)
	delta := (int(today.Weekday()) - int(wd) + 7) % 7
	if last {
		delta += 7
	}
	return today.AddDate(0, 0, -delta), true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
