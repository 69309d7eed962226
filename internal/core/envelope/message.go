package envelope

import (
	"encoding/json"
	"fmt"
)

// Message is the normalized form handed to listeners.
type Message struct {
	Topic        string
	Source       string
	SourceOrigin string
	Data         json.RawMessage
}

func (m Message) HasData() bool {
	return m.Data != nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (m Message) Decode(v any) error {
	if m.Data == nil {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %q payload: %w", m.Topic, err)
	}
	return nil
}

// Topic names a message stream whose payloads decode to T.
type Topic[T any] string

func (t Topic[T]) Name() string {
	return string(t)
}

// Bind adapts fn to an untyped listener. Messages whose payload does not decode to T are
// passed to onError when it is set and otherwise dropped.
func (t Topic[T]) Bind(fn func(Message, T), onError func(Message, error)) func(Message) {
	return func(msg Message) {
		var v T
		if err := msg.Decode(&v); err != nil {
			if onError != nil {
				onError(msg, err)
			}
			return
		}
		fn(msg, v)
	}
}
