package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved topics. These strings are part of the wire contract.
const (
	TopicHandshake          = "HANDSHAKE"
	TopicBackHandshake      = "BACK_HANDSHAKE"
	TopicClientDisconnected = "CLIENT_DISCONNECTED"
)

var ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

// Envelope is the wire structure exchanged between endpoints. A nil Data means the
// payload is absent; json null is kept as the literal bytes "null".
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope. A nil payload leaves Data absent. json.RawMessage payloads are
// used as-is.
func New(topic string, payload any) (Envelope, error) {
	env := Envelope{Topic: topic}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if raw == nil {
			return env, nil
		}
		if !json.Valid(raw) {
			return Envelope{}, fmt.Errorf("%w: invalid raw payload for %q", ErrMalformedEnvelope, topic)
		}
		env.Data = append(json.RawMessage(nil), raw...)
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload for %q: %w", topic, err)
	}
	env.Data = b
	return env, nil
}

func (e Envelope) HasData() bool {
	return e.Data != nil
}

func (e Envelope) Encode() ([]byte, error) {
	if strings.TrimSpace(e.Topic) == "" {
		return nil, fmt.Errorf("%w: missing topic", ErrMalformedEnvelope)
	}
	return json.Marshal(e)
}

// Decode parses a wire envelope. Inputs without a topic are rejected.
func Decode(b []byte) (Envelope, error) {
	var raw struct {
		Topic *string         `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Topic == nil || strings.TrimSpace(*raw.Topic) == "" {
		return Envelope{}, fmt.Errorf("%w: missing topic", ErrMalformedEnvelope)
	}
	env := Envelope{Topic: *raw.Topic}
	if raw.Data != nil {
		env.Data = bytes.Clone(raw.Data)
	}
	return env, nil
}

func IsHandshake(topic string) bool {
	return topic == TopicHandshake
}

func IsReserved(topic string) bool {
	switch topic {
	case TopicHandshake, TopicBackHandshake, TopicClientDisconnected:
		return true
	default:
		return false
	}
}
