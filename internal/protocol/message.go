// Package protocol is the envelope written on the event feed.
package protocol

import "encoding/json"

const (
	TypeEvent = "event"
	TypeError = "error"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event wraps a committed change; op is the event topic.
func Event(id, op string, payload any) Message {
	return Message{ID: id, Type: TypeEvent, Op: op, Payload: MustRaw(payload)}
}

func Error(id, op, code, msg string) Message {
	return Message{ID: id, Type: TypeError, Op: op, Payload: MustRaw(map[string]any{}), Error: &ErrPayload{Code: code, Message: msg}}
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
