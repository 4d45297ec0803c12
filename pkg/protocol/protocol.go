// Package protocol defines the downstream wire messages exchanged between the
// livescribe relay server and its clients.
//
// The upstream direction carries raw binary audio chunks with no envelope; the
// WebSocket framing delimits chunk boundaries. The downstream direction carries
// JSON text messages, each exactly one of:
//
//	{"type":"transcription","text":"..."}
//	{"type":"error","message":"..."}
//
// No other message types are defined.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates downstream messages.
type Type string

const (
	// TypeTranscription carries recognised text for the audio accumulated
	// since the previous successful transcription.
	TypeTranscription Type = "transcription"

	// TypeError reports a failed transcription attempt. The connection stays
	// open and the unflushed audio is retried with the next chunk.
	TypeError Type = "error"
)

// IsValid reports whether t is one of the defined message types.
func (t Type) IsValid() bool {
	return t == TypeTranscription || t == TypeError
}

// ErrUnknownType is returned by [Decode] for messages whose "type" field is
// missing or not one of the defined values.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Message is a single downstream message. Exactly one of Text or ErrMessage is
// meaningful depending on Type.
type Message struct {
	Type Type `json:"type"`

	// Text is set for [TypeTranscription].
	Text string `json:"text,omitempty"`

	// ErrMessage is set for [TypeError].
	ErrMessage string `json:"message,omitempty"`
}

// Transcription builds a transcription message.
func Transcription(text string) Message {
	return Message{Type: TypeTranscription, Text: text}
}

// Error builds an error message.
func Error(message string) Message {
	return Message{Type: TypeError, ErrMessage: message}
}

// wireTranscription and wireError pin the exact key set per type so that an
// empty transcription still serialises its "text" field.
type wireTranscription struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

type wireError struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// Encode serialises m into its JSON wire form.
func Encode(m Message) ([]byte, error) {
	switch m.Type {
	case TypeTranscription:
		return json.Marshal(wireTranscription{Type: m.Type, Text: m.Text})
	case TypeError:
		return json.Marshal(wireError{Type: m.Type, Message: m.ErrMessage})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// ErrMissingField is returned by [Decode] when a message lacks the payload
// key of its type. An empty string is a valid payload.
var ErrMissingField = errors.New("protocol: missing field")

// Decode parses a JSON downstream message. Messages with an unknown type
// return an error wrapping [ErrUnknownType]; a transcription without "text"
// or an error without "message" returns one wrapping [ErrMissingField].
func Decode(data []byte) (Message, error) {
	var w struct {
		Type    Type    `json:"type"`
		Text    *string `json:"text"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}
	switch w.Type {
	case TypeTranscription:
		if w.Text == nil {
			return Message{}, fmt.Errorf("%w: %s message has no \"text\"", ErrMissingField, w.Type)
		}
		return Transcription(*w.Text), nil
	case TypeError:
		if w.Message == nil {
			return Message{}, fmt.Errorf("%w: %s message has no \"message\"", ErrMissingField, w.Type)
		}
		return Error(*w.Message), nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}
