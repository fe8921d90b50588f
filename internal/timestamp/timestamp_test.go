package timestamp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2022-07-15T07:28:07+02:00", "2022-07-15T07:28:07+02:00"},
		{"2022-07-15T07:28:07.123+02:00", "2022-07-15T07:28:07.123+02:00"},
		{"2022-07-15T07:28:07.123456+02:00", "2022-07-15T07:28:07.123+02:00"},
		{"2022-07-15T07:28:07.999999999-03:30", "2022-07-15T07:28:07.999-03:30"},
		{"2022-07-15 07:28:07+02:00", "2022-07-15T07:28:07+02:00"},
		{"2022-07-15T05:28:07Z", "2022-07-15T05:28:07Z"},
		{"2022-07-15T05:28:07+00:00", "2022-07-15T05:28:07Z"},
		{"2022-07-15T07:28:07.000+02:00", "2022-07-15T07:28:07+02:00"},
	}
	for _, c := range cases {
		ts, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := ts.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"07:28:07",
		"2022-07-15T07:28:07",
		"2022-07-15",
		"15.07.2022 07:28:07",
		"2022-07-15T07:28:07+0200",
		"2022-07-15T7:28:07Z",
		"2022-07-15T07:28:07,123Z",
		"2022-7-15T07:28:07Z",
	} {
		_, err := Parse(in)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q) error = %v, want *ParseError", in, err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	zones := []*time.Location{time.UTC, time.FixedZone("", 3600), time.FixedZone("", -5*3600-1800), time.Local}
	base := time.Date(2025, 3, 5, 8, 10, 0, 0, time.UTC)
	for _, loc := range zones {
		for _, ns := range []int{0, 1, 999_999, 1_000_000, 123_456_789, 999_999_999} {
			ts := New(base.Add(time.Duration(ns)).In(loc))
			back, err := Parse(ts.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", ts.String(), err)
			}
			if !back.Equal(ts) {
				t.Errorf("round trip %q: got %v want %v", ts.String(), back.Time(), ts.Time())
			}
		}
	}
}

func TestNewTruncatesNotRounds(t *testing.T) {
	ts := New(time.Date(2025, 3, 5, 8, 10, 0, 999_999_999, time.UTC))
	if got := ts.Time().Nanosecond(); got != 999_000_000 {
		t.Errorf("nanos = %d, want 999000000", got)
	}
}

func TestParseWithReference(t *testing.T) {
	ref, err := Parse("2025-03-05T09:00:00+01:00")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		in   string
		want string
	}{
		{"10:20:30", "2025-03-05T10:20:30+01:00"},
		{"2025-03-06T07:00:00", "2025-03-06T07:00:00+01:00"},
		{"2025-03-06 07:00:00.250", "2025-03-06T07:00:00.250+01:00"},
		{"2025-03-06T07:00:00Z", "2025-03-06T07:00:00Z"},
	}
	for _, c := range cases {
		ts, err := ParseWithReference(c.in, ref)
		if err != nil {
			t.Fatalf("ParseWithReference(%q): %v", c.in, err)
		}
		if got := ts.String(); got != c.want {
			t.Errorf("ParseWithReference(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := ParseWithReference("10:20:30", Timestamp{}); err == nil {
		t.Error("bare time without reference must fail")
	}
	if _, err := ParseWithReference("25:99:00", ref); err == nil {
		t.Error("malformed clock must fail")
	}
	for _, in := range []string{"8:10:00", "2025-03-05T8:10:00", "2025-03-05 08:10:00,5"} {
		var perr *ParseError
		if _, err := ParseWithReference(in, ref); !errors.As(err, &perr) {
			t.Errorf("ParseWithReference(%q) error = %v, want *ParseError", in, err)
		}
	}
}

func TestArithmetic(t *testing.T) {
	ts, _ := Parse("2025-03-05T08:10:00.500+01:00")
	if got := ts.Add(-2 * time.Minute).String(); got != "2025-03-05T08:08:00.500+01:00" {
		t.Errorf("Add = %q", got)
	}
	if got := ts.TruncateToSecond().String(); got != "2025-03-05T08:10:00+01:00" {
		t.Errorf("TruncateToSecond = %q", got)
	}
	later := ts.Add(1500 * time.Millisecond)
	if got := later.MsecSince(ts); got != 1500 {
		t.Errorf("MsecSince = %d", got)
	}
	if !ts.Before(later) || !later.After(ts) {
		t.Error("ordering broken")
	}
}

func TestJSONAndSQL(t *testing.T) {
	ts, _ := Parse("2025-03-05T08:10:00.125+01:00")
	b, err := json.Marshal(ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2025-03-05T08:10:00.125+01:00"` {
		t.Errorf("json = %s", b)
	}
	var back Timestamp
	if err := json.Unmarshal(b, &back); err != nil || !back.Equal(ts) {
		t.Errorf("json round trip: %v %v", back, err)
	}

	v, err := ts.Value()
	if err != nil {
		t.Fatal(err)
	}
	var scanned Timestamp
	if err := scanned.Scan(v); err != nil || !scanned.Equal(ts) {
		t.Errorf("sql round trip: %v %v", scanned, err)
	}
	if err := scanned.Scan([]byte("garbage")); err == nil {
		t.Error("scan of garbage must fail")
	}
}
