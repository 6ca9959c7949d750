package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeType identifies the kind of real-time signal carried by an Envelope.
type EnvelopeType string

// The closed set of envelope types. Anything outside this set is rejected at
// the parse boundary rather than trusted at use sites.
const (
	TypeAuth             EnvelopeType = "auth"
	TypeMessage          EnvelopeType = "message"
	TypeMessageDelivered EnvelopeType = "message_delivered"
	TypeMessageRead      EnvelopeType = "message_read"
	TypeMessageDeleted   EnvelopeType = "message_deleted"
	TypeTyping           EnvelopeType = "typing"
	TypeStopTyping       EnvelopeType = "stop_typing"
	TypeOnline           EnvelopeType = "online"
	TypeOffline          EnvelopeType = "offline"
	TypeError            EnvelopeType = "error"
	TypePong             EnvelopeType = "pong"
)

var knownTypes = map[EnvelopeType]struct{}{
	TypeAuth:             {},
	TypeMessage:          {},
	TypeMessageDelivered: {},
	TypeMessageRead:      {},
	TypeMessageDeleted:   {},
	TypeTyping:           {},
	TypeStopTyping:       {},
	TypeOnline:           {},
	TypeOffline:          {},
	TypeError:            {},
	TypePong:             {},
}

// Valid reports whether t belongs to the closed envelope type set.
func (t EnvelopeType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ErrUnknownType is returned when an inbound envelope carries a type outside
// the closed set.
var ErrUnknownType = errors.New("unknown envelope type")

// Envelope is the unit of exchange on the wire. The payload shape is
// determined solely by Type; it stays raw until a handler decodes it.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// AuthPayload is sent by the client as its first envelope. The user identity
// is trusted as-is; verification happens upstream of this subsystem.
type AuthPayload struct {
	UserID  int64    `json:"userId"`
	ChatIDs []string `json:"chatIds"`
}

// AuthReplyPayload acknowledges a successful authentication.
type AuthReplyPayload struct {
	UserID  int64 `json:"userId"`
	Success bool  `json:"success"`
}

// MessagePayload carries a chat message that has already been persisted by an
// external collaborator.
type MessagePayload struct {
	ChatID     string `json:"chatId"`
	ID         int64  `json:"id"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// MessageDeliveredPayload acknowledges fan-out of a message back to its sender.
type MessageDeliveredPayload struct {
	ChatID string `json:"chatId"`
	ID     int64  `json:"id"`
}

// MessageDeletedPayload announces that a message was removed.
type MessageDeletedPayload struct {
	ChatID string `json:"chatId"`
	ID     int64  `json:"id"`
}

// MessageReadPayload carries read receipts for a set of messages in one chat.
// UserID is filled in by the server before fan-out.
type MessageReadPayload struct {
	ChatID     string  `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
	UserID     int64   `json:"userId,omitempty"`
}

// TypingPayload carries typing and stop-typing indicators. UserID is filled
// in by the server before fan-out.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserName string `json:"userName"`
	UserID   int64  `json:"userId,omitempty"`
}

// PresencePayload announces a user coming online or going offline.
type PresencePayload struct {
	UserID     int64 `json:"userId"`
	Timestamp  int64 `json:"timestamp,omitempty"`
	LastSeenAt int64 `json:"lastSeenAt,omitempty"`
}

// ErrorPayload reports a protocol error back to the offending sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ParseEnvelope decodes raw bytes into an Envelope and rejects types outside
// the closed set. It never panics on malformed input.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return &env, nil
}

// NewEnvelope builds an Envelope of the given type around payload, stamped
// with the current time in epoch milliseconds.
func NewEnvelope(t EnvelopeType, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v, which must match the
// shape dictated by the envelope type.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// mustEncode is for server-built envelopes whose payloads are known
// marshalable structs.
func mustEncode(t EnvelopeType, payload any) []byte {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	raw, err := env.Encode()
	if err != nil {
		panic(err)
	}
	return raw
}
