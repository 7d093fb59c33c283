// Package day computes calendar-day partitions in a fixed reference timezone.
//
// Star records are keyed by a YYYY-MM-DD string. Every device computes that
// string in the same location so day boundaries agree regardless of where the
// device actually is.
package day

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Layout is the partition key format.
const Layout = "2006-01-02"

// DefaultTimezone is used when no reference timezone is configured.
const DefaultTimezone = "America/Denver"

// Calendar maps instants to day partitions in a single reference location.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Calendar for the named IANA timezone. An empty name selects
// DefaultTimezone.
func New(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewWithClock returns a Calendar that uses now instead of the wall clock.
func NewWithClock(loc *time.Location, now func() time.Time) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Calendar{loc: loc, now: now}
}

// Location returns the reference location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current instant according to the calendar's clock.
func (c *Calendar) Now() time.Time {
	return c.now()
}

// Date returns the partition key for t.
func (c *Calendar) Date(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// Today returns the partition key for the current instant.
func (c *Calendar) Today() string {
	return c.Date(c.now())
}

// Parse validates a partition key and returns midnight of that day in the
// reference location.
func (c *Calendar) Parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", date, err)
	}
	return t, nil
}

// Valid reports whether date is a well-formed partition key.
func Valid(date string) bool {
	_, err := time.Parse(Layout, date)
	return err == nil
}

// AddDays shifts a partition key by n calendar days.
func (c *Calendar) AddDays(date string, n int) (string, error) {
	t, err := c.Parse(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}

// WeekStart returns the Monday on or before t, as a partition key.
func (c *Calendar) WeekStart(t time.Time) string {
	local := t.In(c.loc)
	offset := (int(local.Weekday()) + 6) % 7 // Monday = 0
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	return midnight.AddDate(0, 0, -offset).Format(Layout)
}

// LastDays returns n consecutive partition keys ending today, oldest first.
func (c *Calendar) LastDays(n int) []string {
	if n <= 0 {
		return []string{}
	}
	local := c.now().In(c.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	days := make([]string, n)
	for i := 0; i < n; i++ {
		days[i] = today.AddDate(0, 0, i-(n-1)).Format(Layout)
	}
	return days
}
