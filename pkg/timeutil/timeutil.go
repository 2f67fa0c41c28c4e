// Package timeutil provides the clock and calendar-day helpers used by the
// progression engine. All "today" decisions go through a Clock so that day
// rollover can be tested without waiting for midnight.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the canonical YYYY-MM-DD form of a Day.
const DateLayout = "2006-01-02"

// Clock supplies the current instant and the location that defines a local day.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a wall clock for the given location (nil = time.Local).
func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return SystemClock{loc: loc}
}

// LoadSystemClock resolves an IANA zone name. "Local" and "" mean time.Local.
func LoadSystemClock(name string) (SystemClock, error) {
	if name == "" || name == "Local" {
		return NewSystemClock(time.Local), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return SystemClock{}, fmt.Errorf("load location %q: %w", name, err)
	}
	return NewSystemClock(loc), nil
}

func (c SystemClock) Now() time.Time             { return time.Now().In(c.loc) }
func (c SystemClock) Location() *time.Location { return c.loc }

// FixedClock is a manually advanced clock for tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t. The location of t defines the local day.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Location()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Day is a calendar date with no time-of-day or zone attached.
// It is the key of the daily step ledger.
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

// DayOf returns the calendar day t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Dom: d}
}

// Today returns the current local day according to c.
func Today(c Clock) Day {
	return DayOf(c.Now(), c.Location())
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t, nil), nil
}

// String renders the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Dom)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Dom == 0
}

// Time returns midnight UTC of the day. Storage layers use it as a DATE value.
func (d Day) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, time.UTC)
}

// StartIn returns local midnight of the day in loc.
func (d Day) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, loc)
}

// AddDays returns the day n days later (negative n goes back).
func (d Day) AddDays(n int) Day {
	return DayOf(d.Time().AddDate(0, 0, n), time.UTC)
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool {
	return d.Time().Before(o.Time())
}

// After reports whether d is strictly later than o.
func (d Day) After(o Day) bool {
	return d.Time().After(o.Time())
}

// DaysBetween returns the number of whole days from a to b (negative if b is earlier).
func DaysBetween(a, b Day) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}
