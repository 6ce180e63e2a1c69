package tools

import (
	"errors"
	"strings"
	"time"
)

var errBadTime = errors.New("invalid datetime")

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDateTime reads an ISO-8601 timestamp. Values with an offset keep it;
// naive values are taken in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errBadTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadTime
}

// ParseDate reads YYYY-MM-DD as local midnight in loc. Full timestamps are
// accepted and truncated to their local date.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := ParseDateTime(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// parseWindow turns optional from/to strings into query bounds. A date-only
// "to" covers the whole day.
func parseWindow(from, to string, loc *time.Location) (*time.Time, *time.Time, error) {
	var f, t *time.Time
	if from != "" {
		v, err := ParseDate(from, loc)
		if strings.Contains(from, "T") {
			v, err = ParseDateTime(from, loc)
		}
		if err != nil {
			return nil, nil, err
		}
		f = &v
	}
	if to != "" {
		var v time.Time
		var err error
		if strings.Contains(to, "T") {
			v, err = ParseDateTime(to, loc)
		} else {
			v, err = ParseDate(to, loc)
			v = v.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		if err != nil {
			return nil, nil, err
		}
		t = &v
	}
	return f, t, nil
}
