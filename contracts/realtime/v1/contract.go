// Package v1 defines the realtime protocol contract spoken across the bridge.
//
// This package is intentionally stable and dependency-light.
// Both message-type tables are closed allow-lists: a type that is not listed
// here is treated as invalid, including types a newer server might introduce.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client verbs (client -> server).
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"
	TypeItemCreate             = "conversation.item.create"
	TypeItemTruncate           = "conversation.item.truncate"
	TypeItemDelete             = "conversation.item.delete"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// Server events (server -> client).
const (
	TypeError = "error"

	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"

	TypeInputAudioBufferCommitted     = "input_audio_buffer.committed"
	TypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	TypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"

	TypeItemCreated                       = "conversation.item.created"
	TypeItemTruncated                     = "conversation.item.truncated"
	TypeItemDeleted                       = "conversation.item.deleted"
	TypeItemInputAudioTranscriptionDone   = "conversation.item.input_audio_transcription.completed"
	TypeItemInputAudioTranscriptionFailed = "conversation.item.input_audio_transcription.failed"

	TypeResponseCreated                    = "response.created"
	TypeResponseDone                       = "response.done"
	TypeResponseOutputItemAdded            = "response.output_item.added"
	TypeResponseOutputItemDone             = "response.output_item.done"
	TypeResponseContentPartAdded           = "response.content_part.added"
	TypeResponseContentPartDone            = "response.content_part.done"
	TypeResponseTextDelta                  = "response.text.delta"
	TypeResponseTextDone                   = "response.text.done"
	TypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone        = "response.audio_transcript.done"
	TypeResponseAudioDelta                 = "response.audio.delta"
	TypeResponseAudioDone                  = "response.audio.done"
	TypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	TypeResponseFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	TypeRateLimitsUpdated = "rate_limits.updated"
)

var (
	// ErrUnknownType is returned for a type outside the allow-list.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingType is returned when the "type" field is absent or blank.
	ErrMissingType = errors.New("missing field: type")
)

// IsClientMessageType reports whether t is one of the client verbs.
func IsClientMessageType(t string) bool {
	switch t {
	case TypeSessionUpdate,
		TypeInputAudioBufferAppend,
		TypeInputAudioBufferCommit,
		TypeInputAudioBufferClear,
		TypeItemCreate,
		TypeItemTruncate,
		TypeItemDelete,
		TypeResponseCreate,
		TypeResponseCancel:
		return true
	default:
		return false
	}
}

// IsServerMessageType reports whether t is one of the recognized server events.
func IsServerMessageType(t string) bool {
	switch t {
	case TypeError,
		TypeSessionCreated,
		TypeSessionUpdated,
		TypeInputAudioBufferCommitted,
		TypeInputAudioBufferCleared,
		TypeInputAudioBufferSpeechStarted,
		TypeInputAudioBufferSpeechStopped,
		TypeItemCreated,
		TypeItemTruncated,
		TypeItemDeleted,
		TypeItemInputAudioTranscriptionDone,
		TypeItemInputAudioTranscriptionFailed,
		TypeResponseCreated,
		TypeResponseDone,
		TypeResponseOutputItemAdded,
		TypeResponseOutputItemDone,
		TypeResponseContentPartAdded,
		TypeResponseContentPartDone,
		TypeResponseTextDelta,
		TypeResponseTextDone,
		TypeResponseAudioTranscriptDelta,
		TypeResponseAudioTranscriptDone,
		TypeResponseAudioDelta,
		TypeResponseAudioDone,
		TypeResponseFunctionCallArgumentsDelta,
		TypeResponseFunctionCallArgumentsDone,
		TypeRateLimitsUpdated:
		return true
	default:
		return false
	}
}

// envelopeHead is the part of every message the bridge looks at.
type envelopeHead struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// ---- client messages ----

// ClientPayload is implemented by every typed client verb.
type ClientPayload interface {
	ClientMessageType() string
}

// ClientMessage is an outbound envelope: a mandatory verb, an optional
// caller-supplied event_id, and the verb-specific fields.
type ClientMessage struct {
	Type    string
	EventID string

	raw json.RawMessage
}

// NewClientMessage builds an envelope from a typed payload.
// eventID is passed through unchanged; empty means "not set".
func NewClientMessage(p ClientPayload, eventID string) (ClientMessage, error) {
	if p == nil {
		return ClientMessage{}, ErrMissingType
	}
	typ := p.ClientMessageType()
	if !IsClientMessageType(typ) {
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("encode %s: %w", typ, err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ClientMessage{}, fmt.Errorf("encode %s: payload is not an object: %w", typ, err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}

	fields["type"], _ = json.Marshal(typ)
	if eventID != "" {
		fields["event_id"], _ = json.Marshal(eventID)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return ClientMessage{Type: typ, EventID: eventID, raw: raw}, nil
}

// MustClientMessage is NewClientMessage for payloads that cannot fail to encode.
func MustClientMessage(p ClientPayload, eventID string) ClientMessage {
	m, err := NewClientMessage(p, eventID)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseClientMessage decodes a client envelope received from elsewhere
// (for example a browser behind the relay) and validates its verb.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var head envelopeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid JSON message: %w", err)
	}
	m := ClientMessage{
		Type:    head.Type,
		EventID: head.EventID,
		raw:     append(json.RawMessage(nil), bytes.TrimSpace(data)...),
	}
	if err := m.Validate(); err != nil {
		return ClientMessage{}, err
	}
	return m, nil
}

// Validate checks the verb against the client allow-list.
func (m ClientMessage) Validate() error {
	if strings.TrimSpace(m.Type) == "" {
		return ErrMissingType
	}
	if !IsClientMessageType(m.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// MarshalJSON emits the full envelope.
func (m ClientMessage) MarshalJSON() ([]byte, error) {
	if len(m.raw) > 0 {
		return m.raw, nil
	}
	return json.Marshal(envelopeHead{Type: m.Type, EventID: m.EventID})
}

// ---- server messages ----

// ServerMessage is an inbound envelope. Only Type and EventID are
// interpreted; everything else stays in Raw for the caller to decode.
type ServerMessage struct {
	Type    string
	EventID string
	Raw     json.RawMessage
}

// UnmarshalJSON keeps a private copy of the full frame.
func (m *ServerMessage) UnmarshalJSON(data []byte) error {
	var head envelopeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.Type = head.Type
	m.EventID = head.EventID
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the frame exactly as received.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(envelopeHead{Type: m.Type, EventID: m.EventID})
}

// Validate checks the event type against the server allow-list.
func (m ServerMessage) Validate() error {
	if strings.TrimSpace(m.Type) == "" {
		return ErrMissingType
	}
	if !IsServerMessageType(m.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Decode unmarshals the event-specific fields into v.
func (m ServerMessage) Decode(v any) error {
	if len(m.Raw) == 0 {
		return errors.New("empty message")
	}
	return json.Unmarshal(m.Raw, v)
}
