// Package timeutil buckets instants into calendar days of the Jira user's
// timezone and formats the timestamps the worklog API expects.
package timeutil

import (
	"errors"
	"fmt"
	"time"
	// Embedded zone database; Jira user zones must resolve on hosts
	// without /usr/share/zoneinfo.
	_ "time/tzdata"
)

// DateLayout is the calendar-day key layout.
const DateLayout = "2006-01-02"

// JiraLayout is the worklog "started" layout: millisecond precision and a
// numeric offset without a colon.
const JiraLayout = "2006-01-02T15:04:05.000-0700"

// ErrInvalidDateKey is returned for keys that are not YYYY-MM-DD.
var ErrInvalidDateKey = errors.New("invalid date key")

var parseLayouts = []string{
	JiraLayout,
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// LoadLocation resolves an IANA zone name. Empty or unknown names fall back
// to the local zone.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// DateKey renders the calendar day of t as observed in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as a UTC midnight.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", key, ErrInvalidDateKey)
	}
	return t, nil
}

// DateRange lists every key from start to end inclusive. Stepping happens
// on UTC calendar dates so DST transitions never skip or repeat a day.
// A start after end yields an empty range.
func DateRange(startKey, endKey string) ([]string, error) {
	start, err := ParseDateKey(startKey)
	if err != nil {
		return nil, err
	}
	end, err := ParseDateKey(endKey)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		keys = append(keys, d.Format(DateLayout))
	}
	return keys, nil
}

// ParseJiraTime parses the timestamps Jira returns on worklogs and sprints.
func ParseJiraTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range parseLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse jira time %q: %w", value, lastErr)
}

// FormatJiraTime renders t in the worklog "started" layout, keeping t's zone.
func FormatJiraTime(t time.Time) string {
	return t.Format(JiraLayout)
}

// NoonOn returns 12:00 of the given calendar day in loc.
func NoonOn(dateKey string, loc *time.Location) (time.Time, error) {
	day, err := ParseDateKey(dateKey)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc), nil
}

// InRange reports whether key lies within [startKey, endKey]. Keys compare
// lexically because the layout is zero padded.
func InRange(key, startKey, endKey string) bool {
	return key >= startKey && key <= endKey
}
