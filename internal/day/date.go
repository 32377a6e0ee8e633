// Package day provides the calendar-date key used to address journal
// documents. A document is identified by (user, date) where date is a
// calendar day, never a timestamp.
//
// This is a leaf package with zero external dependencies beyond stdlib.
package day

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"strings"
	"time"
)

// layout is the ISO 8601 calendar date format used on the wire, in storage
// keys, and in draft file names.
const layout = "2006-01-02"

// Date is a normalized calendar day. The zero value (Date{}) represents an
// absent date.
type Date struct {
	value string
}

// Parse validates and normalizes an ISO 8601 date ("2024-05-01"). Leading
// and trailing whitespace is ignored.
func Parse(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}, fmt.Errorf("day: empty date")
	}

	t, err := time.Parse(layout, raw)
	if err != nil {
		return Date{}, fmt.Errorf("day: parse %q: %w", raw, err)
	}

	return Date{value: t.Format(layout)}, nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(raw string) Date {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return d
}

// FromTime returns the calendar day of t in t's own location.
func FromTime(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}

	return Date{value: t.Format(layout)}
}

// Today returns the local calendar day at now.
func Today(now time.Time) Date {
	return FromTime(now.Local())
}

// Time returns midnight UTC of the day. The zero Date returns the zero time.
func (d Date) Time() time.Time {
	if d.value == "" {
		return time.Time{}
	}

	t, err := time.Parse(layout, d.value)
	if err != nil {
		return time.Time{}
	}

	return t
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}

	return FromTime(d.Time().AddDate(0, 0, n))
}

// String returns the ISO 8601 form, or "" for the zero Date.
func (d Date) String() string {
	return d.value
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.value == ""
}

// Compare returns -1, 0 or +1. The fixed-width ISO layout sorts
// lexically in chronological order, so a string compare is exact.
func (d Date) Compare(other Date) int {
	return strings.Compare(d.value, other.value)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Compare(other) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// zero Date.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}

	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// Scan implements sql.Scanner. Postgres DATE columns arrive as time.Time,
// SQLite text columns as string or []byte. SQL NULL produces the zero Date.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date{value: v.UTC().Format(layout)}
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("day.Date.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer. The zero Date writes SQL NULL.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}

	return d.value, nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = Date{}
	_ encoding.TextUnmarshaler = (*Date)(nil)
	_ fmt.Stringer             = Date{}
	_ driver.Valuer            = Date{}
	_ sql.Scanner              = (*Date)(nil)
)
