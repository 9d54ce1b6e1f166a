// Package wire defines the message envelope and typed payloads exchanged
// between the session authority and the companion device.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates message payloads. Kinds split into two disjoint
// families: requests originate on the companion, responses on the authority.
type Kind string

// Request kinds (companion → authority).
const (
	KindFetchToday        Kind = "fetch-today"
	KindStartSession      Kind = "start-session"
	KindLogSet            Kind = "log-set"
	KindFetchSessionState Kind = "fetch-session-state"
	KindAdvanceExercise   Kind = "advance-exercise"
	KindRetreatExercise   Kind = "retreat-exercise"
	KindCompleteSession   Kind = "complete-session"
)

// Response kinds (authority → companion).
const (
	KindTodaySnapshot     Kind = "today-snapshot"
	KindRestDayNotice     Kind = "rest-day-notice"
	KindSessionSnapshot   Kind = "session-snapshot"
	KindLogConfirmation   Kind = "log-confirmation"
	KindCompletionSummary Kind = "completion-summary"
	KindError             Kind = "error"
)

var requestKinds = map[Kind]bool{
	KindFetchToday:        true,
	KindStartSession:      true,
	KindLogSet:            true,
	KindFetchSessionState: true,
	KindAdvanceExercise:   true,
	KindRetreatExercise:   true,
	KindCompleteSession:   true,
}

var responseKinds = map[Kind]bool{
	KindTodaySnapshot:     true,
	KindRestDayNotice:     true,
	KindSessionSnapshot:   true,
	KindLogConfirmation:   true,
	KindCompletionSummary: true,
	KindError:             true,
}

// IsRequest reports whether k belongs to the companion-originated family.
func (k Kind) IsRequest() bool { return requestKinds[k] }

// IsResponse reports whether k belongs to the authority-originated family.
func (k Kind) IsResponse() bool { return responseKinds[k] }

// Known reports whether k is part of the closed kind set.
func (k Kind) Known() bool { return requestKinds[k] || responseKinds[k] }

// Message is the wire envelope: a kind discriminator and an optional
// payload blob holding the matching typed record.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnknownKindError reports an envelope whose kind is missing or outside the
// closed set. It is distinct from payload decode failures so callers can
// drop forward-incompatible messages without treating them as corruption.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	if e.Kind == "" {
		return "message has no kind"
	}
	return fmt.Sprintf("unknown message kind %q", e.Kind)
}

// NewMessage builds an envelope for the given kind. A nil payload produces
// an envelope with the payload absent.
func NewMessage(kind Kind, payload any) (Message, error) {
	if !kind.Known() {
		return Message{}, &UnknownKindError{Kind: string(kind)}
	}
	msg := Message{Kind: kind}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	msg.Payload = data
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to encode.
// It panics on error and is intended for static payload types.
func MustMessage(kind Kind, payload any) Message {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// ParseMessage decodes raw bytes into an envelope. An unrecognized or
// missing kind is reported as *UnknownKindError, never silently coerced.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("parsing envelope: %w", err)
	}
	if !msg.Kind.Known() {
		return Message{}, &UnknownKindError{Kind: string(msg.Kind)}
	}
	return msg, nil
}

// Encode serializes an envelope to bytes.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", m.Kind, err)
	}
	return data, nil
}

// DecodePayload decodes an envelope's payload into T.
func DecodePayload[T any](m Message) (T, error) {
	var v T
	if len(m.Payload) == 0 {
		return v, fmt.Errorf("%s message has no payload", m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload: %w", m.Kind, err)
	}
	return v, nil
}

// DecodeTodayReply decodes the reply to a fetch-today request. The authority
// answers on one response slot with either a workout snapshot or a rest-day
// notice, so decoding tries TodaySnapshot first, then RestDayNotice, and
// reports failure only if both fail. Exactly one of the returned pointers is
// non-nil on success.
func DecodeTodayReply(m Message) (*TodaySnapshot, *RestDayNotice, error) {
	if len(m.Payload) == 0 {
		return nil, nil, fmt.Errorf("%s message has no payload", m.Kind)
	}

	var snap TodaySnapshot
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err == nil && snap.Name != "" {
		return &snap, nil, nil
	}

	var rest RestDayNotice
	dec = json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rest); err == nil && rest.Message != "" {
		return nil, &rest, nil
	}

	return nil, nil, fmt.Errorf("today reply decodes as neither snapshot nor rest-day notice")
}
