package network

// Message is one broadcast delivery. From is the transport-level sender when the transport
// knows it.
type Message struct {
	Topic   string
	Payload []byte
	From    string
}

// PubSub is a fire-and-forget broadcast transport. Delivery is best-effort: a publish to a
// topic nobody is subscribed to is silently lost.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}
