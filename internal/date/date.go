// Package date provides a calendar date with day granularity, used for
// season bounds, turn dates and price observations.
package date

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the wire and storage format of a Date.
const Layout = "2006-01-02"

// Date is a calendar day in UTC. The zero value is not a valid day.
type Date struct {
	y int
	m time.Month
	d int
}

// New returns a normalized Date; out-of-range days roll over like time.Date.
func New(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	y, m, d := t.Date()
	return Date{y, m, d}
}

// FromTime returns the UTC calendar day of t.
func FromTime(t time.Time) Date {
	return New(t.UTC().Date())
}

// Today returns the current UTC day.
func Today() Date { return FromTime(time.Now()) }

// Parse parses a strict YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want %s: %w", s, Layout, err)
	}
	return FromTime(t), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// EndOfDay returns the last second of the day in UTC.
func (d Date) EndOfDay() time.Time { return d.Time().Add(24*time.Hour - time.Second) }

func (d Date) IsZero() bool { return d == Date{} }

// AddDays returns d shifted by n days (n may be negative).
func (d Date) AddDays(n int) Date { return New(d.y, d.m, d.d+n) }

// DaysUntil returns the number of days from d to x; negative if x is before d.
func (d Date) DaysUntil(x Date) int {
	return int(x.Time().Sub(d.Time()).Hours() / 24)
}

func (d Date) Before(x Date) bool { return d.Time().Before(x.Time()) }
func (d Date) After(x Date) bool  { return d.Time().After(x.Time()) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(Layout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts what MarshalJSON writes, so "" and null decode to
// the zero Date.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText lets dates be decoded from TOML and other text formats.
// Empty text is the zero Date.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
