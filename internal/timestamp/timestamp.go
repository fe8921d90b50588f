package timestamp

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	layoutSecs   = "2006-01-02T15:04:05Z07:00"
	layoutMillis = "2006-01-02T15:04:05.000Z07:00"
	layoutClock  = "15:04:05"
)

// Zoned layouts accept an optional fractional second after the seconds field.
var (
	zonedLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
)

// time.Parse tolerates one-digit hours and a comma before the fraction;
// these shapes are checked first.
var (
	zonedShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)
	localShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?$`)
	clockShape = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
)

// ParseError reports text that is not a recognised instant.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid datetime: %q", e.Text)
}

// Timestamp is an instant with a fixed UTC offset and millisecond resolution.
// The zero value is not a valid instant; use IsZero to detect it.
type Timestamp struct {
	t time.Time
}

// New truncates t to the millisecond and pins its current offset.
func New(t time.Time) Timestamp {
	_, off := t.Zone()
	return Timestamp{t: t.Truncate(time.Millisecond).In(zone(off))}
}

func Now() Timestamp {
	return New(time.Now())
}

func zone(offset int) *time.Location {
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone("", offset)
}

// Parse reads YYYY-MM-DD[T| ]HH:MM:SS[.fraction] followed by Z or ±HH:MM.
func Parse(text string) (Timestamp, error) {
	s := strings.TrimSpace(text)
	if !zonedShape.MatchString(s) {
		return Timestamp{}, &ParseError{Text: text}
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return New(t), nil
		}
	}
	return Timestamp{}, &ParseError{Text: text}
}

// ParseInOffset is Parse that also accepts offset-less date-times,
// which are placed in the given offset (seconds east of UTC).
func ParseInOffset(text string, offset int) (Timestamp, error) {
	if ts, err := Parse(text); err == nil {
		return ts, nil
	}
	s := strings.TrimSpace(text)
	if !localShape.MatchString(s) {
		return Timestamp{}, &ParseError{Text: text}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, zone(offset)); err == nil {
			return New(t), nil
		}
	}
	return Timestamp{}, &ParseError{Text: text}
}

// ParseWithReference resolves offset-less input against ref: a date-time
// without offset takes ref's offset, a bare HH:MM:SS also takes ref's date.
func ParseWithReference(text string, ref Timestamp) (Timestamp, error) {
	if ref.IsZero() {
		return Parse(text)
	}
	if ts, err := ParseInOffset(text, ref.Offset()); err == nil {
		return ts, nil
	}
	s := strings.TrimSpace(text)
	if !clockShape.MatchString(s) {
		return Timestamp{}, &ParseError{Text: text}
	}
	clock, err := time.Parse(layoutClock, s)
	if err != nil {
		return Timestamp{}, &ParseError{Text: text}
	}
	y, m, d := ref.t.Date()
	t := time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, ref.t.Location())
	return New(t), nil
}

func (ts Timestamp) String() string {
	if ts.t.Nanosecond() == 0 {
		return ts.t.Format(layoutSecs)
	}
	return ts.t.Format(layoutMillis)
}

func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Offset returns seconds east of UTC.
func (ts Timestamp) Offset() int {
	_, off := ts.t.Zone()
	return off
}

// Equal reports the same instant expressed in the same offset.
func (ts Timestamp) Equal(o Timestamp) bool {
	return ts.t.Equal(o.t) && ts.Offset() == o.Offset()
}

func (ts Timestamp) Before(o Timestamp) bool { return ts.t.Before(o.t) }

func (ts Timestamp) After(o Timestamp) bool { return ts.t.After(o.t) }

func (ts Timestamp) Add(d time.Duration) Timestamp {
	return New(ts.t.Add(d))
}

func (ts Timestamp) Sub(o Timestamp) time.Duration {
	return ts.t.Sub(o.t)
}

// MsecSince returns the signed number of milliseconds from since to ts.
func (ts Timestamp) MsecSince(since Timestamp) int64 {
	return ts.t.Sub(since.t).Milliseconds()
}

func (ts Timestamp) TruncateToSecond() Timestamp {
	return Timestamp{t: ts.t.Truncate(time.Second)}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + ts.String() + `"`), nil
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*ts = Timestamp{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return &ParseError{Text: s}
	}
	parsed, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Value stores the instant as TEXT in canonical form.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.String(), nil
}

func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
		return nil
	case string:
		return ts.scanText(v)
	case []byte:
		return ts.scanText(string(v))
	case time.Time:
		*ts = New(v)
		return nil
	default:
		return errors.New("timestamp: unsupported scan type " + fmt.Sprintf("%T", src))
	}
}

func (ts *Timestamp) scanText(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
