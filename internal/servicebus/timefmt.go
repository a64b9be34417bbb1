package servicebus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Time is a UTC instant encoded on the wire as an RFC 1123 date, the format
// Service Bus uses inside BrokerProperties.
type Time struct {
	time.Time
}

// NewTime wraps t.
func NewTime(t time.Time) *Time {
	return &Time{Time: t.UTC()}
}

// MarshalJSON encodes the time as "Mon, 02 Jan 2006 15:04:05 GMT".
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(http.TimeFormat))
}

// UnmarshalJSON accepts RFC 1123 dates with either a zone name or a numeric
// offset. null leaves the value unchanged.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("broker time: %w", err)
	}

	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("broker time: %q is not an RFC 1123 date", s)
}
