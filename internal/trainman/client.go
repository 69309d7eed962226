package trainman

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"Assembler-Trainman/internal/core/channel"
	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/registry"
)

// hostIdentity keys the single host record of a Client.
const hostIdentity = "host"

// Client talks to exactly one Host. It waits for the host's HANDSHAKE, learns the host's
// origin and handle from it, and answers with BACK_HANDSHAKE.
type Client struct {
	*endpoint
	removeCloseHook func()
	closeOnce       sync.Once
}

func NewClient(ch channel.Channel, cfg Config) (*Client, error) {
	c := &Client{endpoint: newEndpoint("client", "Passenger", ch, cfg)}
	c.trusted = c.trustedLocked
	if _, err := c.peers.Register(hostIdentity, "", ""); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subscribeLocked(envelope.TopicHandshake, "", c.onHandshake, true)
	c.mu.Unlock()

	c.removeCloseHook = ch.OnClose(func() {
		_ = c.Close()
	})
	if err := c.start(); err != nil {
		c.removeCloseHook()
		return nil, err
	}
	return c, nil
}

// Send transmits to the host, or queues until the host has been seen.
func (c *Client) Send(topic string, payload any) error {
	env, err := build(topic, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	rec, err := c.peers.Get(hostIdentity)
	if err != nil {
		return err
	}
	return c.sendLocked(rec, env)
}

// Subscribe registers fn for topic messages from the host. The returned Subscription
// removes exactly this listener.
func (c *Client) Subscribe(topic string, fn Handler) (*Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("trainman: nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.subscribeLocked(topic, "", fn, false), nil
}

// Unsubscribe removes every listener on topic. It is a no-op for unknown topics.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs.RemoveTopic(topic, "", false)
}

func (c *Client) State() registry.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.peers.Get(hostIdentity)
	if err != nil {
		return registry.StateDisconnected
	}
	return rec.State
}

// Host reports what the client has learned about its host.
func (c *Client) Host() PeerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.peers.Get(hostIdentity)
	if err != nil {
		return PeerStatus{ID: hostIdentity}
	}
	return statusOf(rec)
}

// Close tells a connected host that this client is going away, then stops receiving. The
// channel is left open, but closing the channel closes the client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if rec, err := c.peers.Get(hostIdentity); err == nil && rec.State == registry.StateConnected {
			c.tracef("Notifying host of disconnect")
			c.transmitLocked(rec, envelope.Envelope{Topic: envelope.TopicClientDisconnected})
		}
		c.closed = true
		c.mu.Unlock()
		c.removeCloseHook()
		c.stop()
	})
	return nil
}

func (c *Client) onHandshake(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	rec, err := c.peers.Get(hostIdentity)
	if err != nil || rec.State == registry.StateConnected {
		return
	}
	if msg.Source == "" {
		c.log.Warn("ignore handshake without source")
		return
	}
	c.subs.RemoveInternal(envelope.TopicHandshake, "")
	if err := c.peers.Learn(hostIdentity, msg.SourceOrigin, msg.Source); err != nil {
		c.log.Warn("learn host failed", zap.Error(err))
		return
	}
	c.tracef("Host %q was connected", msg.SourceOrigin)
	// BACK_HANDSHAKE goes out ahead of the flushed queue.
	c.transmitLocked(rec, envelope.Envelope{Topic: envelope.TopicBackHandshake})
	c.connectLocked(rec)
}

// trustedLocked accepts HANDSHAKE from anyone; it is how the host's origin is learned.
// Everything else must come from the learned host.
func (c *Client) trustedLocked(_ *entry, in channel.Inbound, topic string) bool {
	if envelope.IsHandshake(topic) {
		return true
	}
	rec, err := c.peers.Get(hostIdentity)
	if err != nil || !rec.Known() {
		return false
	}
	return rec.ExpectedOrigin == in.Origin && rec.Handle == in.Sender
}
