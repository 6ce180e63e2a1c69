// Package recurrence builds, expands and truncates RFC 5545 RRULEs.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const untilLayout = "20060102T150405Z"

var (
	ErrCountAndUntil = errors.New("count and until are mutually exclusive")
	ErrBadFreq       = errors.New("freq must be one of daily, weekly, monthly, yearly")
	ErrBadWeekday    = errors.New("unknown weekday")
	ErrBadUntil      = errors.New("until must be a date or datetime")
	ErrBadMonthDay   = errors.New("by_month_day must be within -31..31 and non-zero")
)

// Rule is the structured recurrence accepted by the tools.
type Rule struct {
	Freq       string   `json:"freq" jsonschema:"enum=daily,enum=weekly,enum=monthly,enum=yearly" jsonschema_description:"Repeat frequency"`
	Interval   int      `json:"interval,omitempty" jsonschema_description:"Repeat every N periods (default 1)"`
	ByDay      []string `json:"by_day,omitempty" jsonschema_description:"Weekdays such as MO or TU or -1FR"`
	ByMonthDay []int    `json:"by_month_day,omitempty" jsonschema_description:"Days of month (negative counts from the end)"`
	Until      string   `json:"until,omitempty" jsonschema_description:"Last date (YYYY-MM-DD) or datetime; excludes count"`
	Count      int      `json:"count,omitempty" jsonschema_description:"Number of occurrences; excludes until"`
}

var freqs = map[string]string{
	"daily":   "DAILY",
	"weekly":  "WEEKLY",
	"monthly": "MONTHLY",
	"yearly":  "YEARLY",
}

var weekdays = map[string]string{
	"su": "SU", "sun": "SU", "sunday": "SU", "ראשון": "SU", "א": "SU",
	"mo": "MO", "mon": "MO", "monday": "MO", "שני": "MO", "ב": "MO",
	"tu": "TU", "tue": "TU", "tuesday": "TU", "שלישי": "TU", "ג": "TU",
	"we": "WE", "wed": "WE", "wednesday": "WE", "רביעי": "WE", "ד": "WE",
	"th": "TH", "thu": "TH", "thursday": "TH", "חמישי": "TH", "ה": "TH",
	"fr": "FR", "fri": "FR", "friday": "FR", "שישי": "FR", "ו": "FR",
	"sa": "SA", "sat": "SA", "saturday": "SA", "שבת": "SA",
}

// NormalizeWeekday maps names and abbreviations (English or Hebrew, with an
// optional ordinal prefix like "-1") to a two-letter RRULE code.
func NormalizeWeekday(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "יום ")
	i := 0
	for i < len(s) && (s[i] == '-' || s[i] == '+' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	prefix, name := s[:i], strings.TrimSpace(s[i:])
	code, ok := weekdays[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadWeekday, s)
	}
	return strings.TrimPrefix(prefix, "+") + code, nil
}

// Validate checks the rule without building it.
func (r Rule) Validate() error {
	_, err := Build(r, time.UTC)
	return err
}

// Build renders r as an RRULE body (no "RRULE:" prefix). until values
// without a zone are interpreted in loc.
func Build(r Rule, loc *time.Location) (string, error) {
	freq, ok := freqs[strings.ToLower(strings.TrimSpace(r.Freq))]
	if !ok {
		return "", ErrBadFreq
	}
	if r.Count > 0 && r.Until != "" {
		return "", ErrCountAndUntil
	}
	parts := []string{"FREQ=" + freq}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		days := make([]string, 0, len(r.ByDay))
		for _, d := range r.ByDay {
			code, err := NormalizeWeekday(d)
			if err != nil {
				return "", err
			}
			days = append(days, code)
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if len(r.ByMonthDay) > 0 {
		days := make([]string, 0, len(r.ByMonthDay))
		for _, d := range r.ByMonthDay {
			if d == 0 || d < -31 || d > 31 {
				return "", ErrBadMonthDay
			}
			days = append(days, strconv.Itoa(d))
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}
	switch {
	case r.Count > 0:
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	case r.Until != "":
		until, err := parseUntil(r.Until, loc)
		if err != nil {
			return "", err
		}
		parts = append(parts, "UNTIL="+until.UTC().Format(untilLayout))
	}
	return strings.Join(parts, ";"), nil
}

func parseUntil(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t.Add(24*time.Hour - time.Second), nil
	}
	if t, err := time.Parse(untilLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, ErrBadUntil
}

// Strip removes an "RRULE:" prefix.
func Strip(rule string) string {
	return strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
}

func parse(rule string, dtstart time.Time) (*rrule.RRule, error) {
	r, err := rrule.StrToRRule(Strip(rule))
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	r.DTStart(dtstart)
	return r, nil
}

// Expand returns the occurrence starts of rule (anchored at dtstart) that
// fall inside [from, to].
func Expand(rule string, dtstart, from, to time.Time) ([]time.Time, error) {
	r, err := parse(rule, dtstart)
	if err != nil {
		return nil, err
	}
	return r.Between(from, to, true), nil
}

// Next returns the first occurrence strictly after after.
func Next(rule string, dtstart, after time.Time) (time.Time, bool, error) {
	r, err := parse(rule, dtstart)
	if err != nil {
		return time.Time{}, false, err
	}
	next := r.After(after, false)
	return next, !next.IsZero(), nil
}

// TruncateBefore rewrites rule so the series ends just before instanceStart:
// COUNT and UNTIL are dropped and UNTIL is set to instanceStart minus one
// second, in UTC.
func TruncateBefore(rule string, instanceStart time.Time) (string, error) {
	body := Strip(rule)
	if body == "" {
		return "", errors.New("empty rrule")
	}
	var kept []string
	for _, part := range strings.Split(body, ";") {
		key := strings.ToUpper(strings.SplitN(part, "=", 2)[0])
		if key == "COUNT" || key == "UNTIL" || part == "" {
			continue
		}
		kept = append(kept, part)
	}
	kept = append(kept, "UNTIL="+instanceStart.Add(-time.Second).UTC().Format(untilLayout))
	return strings.Join(kept, ";"), nil
}
