package servicebus

import (
	"encoding/json"
	"fmt"
	"time"
)

// BrokerProperties is the envelope metadata carried in the BrokerProperties
// header. The first group is settable by a sender; the second group is
// populated by the service on receive. Nil fields are omitted.
type BrokerProperties struct {
	CorrelationID           *string  `json:"CorrelationId,omitempty"`
	SessionID               *string  `json:"SessionId,omitempty"`
	Label                   *string  `json:"Label,omitempty"`
	ReplyTo                 *string  `json:"ReplyTo,omitempty"`
	To                      *string  `json:"To,omitempty"`
	TimeToLive              *float64 `json:"TimeToLive,omitempty"` // seconds, fractional
	ScheduledEnqueueTimeUTC *Time    `json:"ScheduledEnqueueTimeUtc,omitempty"`
	ReplyToSessionID        *string  `json:"ReplyToSessionId,omitempty"`
	PartitionKey            *string  `json:"PartitionKey,omitempty"`

	DeliveryCount   *int    `json:"DeliveryCount,omitempty"`
	LockedUntilUTC  *Time   `json:"LockedUntilUtc,omitempty"`
	LockToken       *string `json:"LockToken,omitempty"`
	MessageID       *string `json:"MessageId,omitempty"`
	EnqueuedTimeUTC *Time   `json:"EnqueuedTimeUtc,omitempty"`
	SequenceNumber  *int64  `json:"SequenceNumber,omitempty"`
	State           *string `json:"State,omitempty"`
}

// String returns a pointer to s, for populating optional properties.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Seconds returns d as a pointer to fractional seconds, the TimeToLive form.
func Seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// lockRef returns the message id and lock token required to settle a locked
// message.
func (p *BrokerProperties) lockRef() (messageID, lockToken string, err error) {
	if p == nil || p.MessageID == nil {
		return "", "", fmt.Errorf("no message id found in broker properties")
	}
	if p.LockToken == nil {
		return "", "", fmt.Errorf("no lock token found in broker properties")
	}
	return *p.MessageID, *p.LockToken, nil
}

// encode returns the JSON form used for the BrokerProperties header.
func (p BrokerProperties) encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeProperties(header string) (BrokerProperties, error) {
	var p BrokerProperties
	if err := json.Unmarshal([]byte(header), &p); err != nil {
		return BrokerProperties{}, err
	}
	return p, nil
}
