package trainman

import "Assembler-Trainman/internal/core/envelope"

// Topic is a topic whose payloads decode to T.
type Topic[T any] = envelope.Topic[T]

// Listen subscribes a typed listener on a Client. Payloads that do not decode to T are
// logged and dropped before fn runs.
func Listen[T any](c *Client, topic Topic[T], fn func(Message, T)) (*Subscription, error) {
	return c.Subscribe(topic.Name(), topic.Bind(fn, c.badPayload))
}

// ListenClient subscribes a typed listener on a Host for one client.
func ListenClient[T any](h *Host, clientID string, topic Topic[T], fn func(Message, T)) (*Subscription, error) {
	return h.Subscribe(clientID, topic.Name(), topic.Bind(fn, h.badPayload))
}

// Publish sends a typed payload from a Client.
func Publish[T any](c *Client, topic Topic[T], v T) error {
	return c.Send(topic.Name(), v)
}

// PublishClient sends a typed payload from a Host to one client.
func PublishClient[T any](h *Host, clientID string, topic Topic[T], v T) error {
	return h.Send(clientID, topic.Name(), v)
}
