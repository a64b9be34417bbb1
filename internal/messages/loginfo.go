// Package messages holds the payload types exchanged by the demo producer
// and consumer.
package messages

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogInfo is the demo payload: a message and an extra detail line.
type LogInfo struct {
	Message string `json:"message"`
	Extra   string `json:"extra"`
}

// NewRandomLogInfo returns a LogInfo tagged with a fresh random id.
func NewRandomLogInfo() LogInfo {
	return LogInfo{
		Message: "New message to process.",
		Extra:   "The unique id is: " + uuid.New().String(),
	}
}

// MarshalZerologObject lets a LogInfo be logged with Object().
func (l LogInfo) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message", l.Message).Str("extra", l.Extra)
}
