package servicebus

import (
	"encoding/json"
	"fmt"
)

// JSONContentType is the content type used for JSON payloads.
const JSONContentType = "application/json"

// Message is a queue message: envelope properties plus opaque content.
type Message struct {
	Properties  BrokerProperties
	Content     []byte
	ContentType string
}

// NewJSONMessage encodes v as the content of a new message with empty
// properties.
func NewJSONMessage(v any) (*Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Kind: KindConversion, Op: opSend, Msg: "encode payload", Err: err}
	}
	return &Message{Content: data, ContentType: JSONContentType}, nil
}

// DecodeJSON unmarshals the message content into v.
func (m *Message) DecodeJSON(v any) error {
	if err := json.Unmarshal(m.Content, v); err != nil {
		return &Error{Kind: KindConversion, Op: "decode", Msg: fmt.Sprintf("decode %d content bytes", len(m.Content)), Err: err}
	}
	return nil
}
