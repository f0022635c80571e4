package ledger

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used for option parsing and logs.
const DateLayout = "2006-01-02"

// Date is a calendar date in the reference timezone. It is comparable and
// usable as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Start returns the first instant of d in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// DaysSince returns the number of whole calendar days from other to d.
// Negative when other is after d.
func (d Date) DaysSince(other Date) int {
	a := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	b := time.Date(other.Year, other.Month, other.Day, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

func (d Date) Before(other Date) bool {
	return d.DaysSince(other) < 0
}

// Embed is the structured annotation attached to a message.
type Embed struct {
	FooterText  string
	Description string
}

// RawMessage is one message of the channel history, reduced to the fields
// the ledger reads.
type RawMessage struct {
	ID        string
	AuthorID  string
	IsSelf    bool
	Timestamp time.Time
	Text      string
	Embed     *Embed
}

// EventRecord is one attendance event. Timestamp is already expressed in the
// reference timezone, so Day is derived from it and never stored.
type EventRecord struct {
	MemberID  string
	Timestamp time.Time
	Content   string
}

// Day is the partition key of the record.
func (r EventRecord) Day() Date {
	return DateOf(r.Timestamp, r.Timestamp.Location())
}
