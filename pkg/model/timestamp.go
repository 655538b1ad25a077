package model

import (
	"bytes"
	"fmt"
	"time"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a time that serializes to TimestampLayout. Values are kept in
// UTC and truncated to milliseconds so they survive a JSON round trip unchanged.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC milliseconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp must be a string: %s", data)
	}
	s := string(data[1 : len(data)-1])
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// Accept any RFC 3339 value and normalize it.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	*t = NewTimestamp(parsed)
	return nil
}
