// Package channel adapts a broadcast PubSub into the point-to-point, origin-tagged
// channel the endpoints talk through. Every endpoint owns a mailbox topic derived from
// its address; sending to a peer publishes a frame onto the peer's mailbox.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/network"
)

const DefaultMailboxPrefix = "trainman.mailbox/"

// AnyOrigin as a target origin disables receiver-side origin filtering.
const AnyOrigin = "*"

var (
	ErrInvalidAddress = errors.New("channel: invalid address")
	ErrClosed         = errors.New("channel: closed")
)

// Inbound is one received envelope together with the sender's handle and declared origin.
// Payload is the raw envelope; decoding is left to the receiver.
type Inbound struct {
	Payload json.RawMessage
	Sender  string
	Origin  string
}

// Peer is what a channel needs to address and trust a prospective peer.
type Peer struct {
	Handle string
	Origin string
}

// Channel is the transport capability handed to an endpoint.
type Channel interface {
	// SendTo is best-effort and carries no delivery confirmation.
	SendTo(handle string, env envelope.Envelope, targetOrigin string) error
	Listen() (<-chan Inbound, func(), error)
	Resolve(address string) (Peer, error)
	Origin() string
	Handle() string
	// OnClose registers fn to run when the channel is being torn down, before the
	// transport stops accepting sends.
	OnClose(fn func()) (remove func())
}

type frame struct {
	From         string          `json:"from"`
	Origin       string          `json:"origin"`
	TargetOrigin string          `json:"target_origin,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type Options struct {
	MailboxPrefix string
	Logger        *zap.Logger
}

// PubSubChannel implements Channel over a network.PubSub.
type PubSubChannel struct {
	ps     network.PubSub
	handle string
	origin string
	prefix string
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
	nextID int
	hooks  map[int]func()
	order  []int
}

func New(ps network.PubSub, address string, opts Options) (*PubSubChannel, error) {
	if ps == nil {
		return nil, errors.New("channel: nil pubsub")
	}
	self, err := Resolve(address)
	if err != nil {
		return nil, err
	}
	prefix := opts.MailboxPrefix
	if prefix == "" {
		prefix = DefaultMailboxPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubChannel{
		ps:     ps,
		handle: self.Handle,
		origin: self.Origin,
		prefix: prefix,
		log:    logger.Named("channel").With(zap.String("handle", self.Handle)),
		hooks:  make(map[int]func()),
	}, nil
}

func (c *PubSubChannel) Origin() string { return c.origin }

func (c *PubSubChannel) Handle() string { return c.handle }

func (c *PubSubChannel) Resolve(address string) (Peer, error) {
	return Resolve(address)
}

func (c *PubSubChannel) mailbox(handle string) string {
	return c.prefix + handle
}

func (c *PubSubChannel) SendTo(handle string, env envelope.Envelope, targetOrigin string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if strings.TrimSpace(handle) == "" {
		return fmt.Errorf("%w: empty handle", ErrInvalidAddress)
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	b, err := json.Marshal(frame{
		From:         c.handle,
		Origin:       c.origin,
		TargetOrigin: targetOrigin,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return c.ps.Publish(c.mailbox(handle), b)
}

// Listen streams frames addressed to this channel's mailbox. Frames that cannot be
// parsed, or whose target origin is not ours, are dropped.
func (c *PubSubChannel) Listen() (<-chan Inbound, func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}
	msgs, cancelSub, err := c.ps.Subscribe(c.mailbox(c.handle))
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe mailbox: %w", err)
	}
	out := make(chan Inbound, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				in, ok := c.accept(msg)
				if !ok {
					continue
				}
				select {
				case out <- in:
				case <-done:
					return
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			cancelSub()
		})
	}
	return out, cancel, nil
}

func (c *PubSubChannel) accept(msg network.Message) (Inbound, bool) {
	var f frame
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		c.log.Debug("drop unreadable frame", zap.Error(err))
		return Inbound{}, false
	}
	if f.TargetOrigin != "" && f.TargetOrigin != AnyOrigin && f.TargetOrigin != c.origin {
		c.log.Debug("drop frame for other origin",
			zap.String("target_origin", f.TargetOrigin), zap.String("from", f.From))
		return Inbound{}, false
	}
	return Inbound{Payload: f.Payload, Sender: f.From, Origin: f.Origin}, true
}

func (c *PubSubChannel) OnClose(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.hooks[id] = fn
	c.order = append(c.order, id)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.hooks, id)
	}
}

// Close runs the teardown hooks in registration order, then refuses further sends. The
// underlying PubSub is left open; it may be shared.
func (c *PubSubChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	hooks := make([]func(), 0, len(c.hooks))
	for _, id := range c.order {
		if fn, ok := c.hooks[id]; ok {
			hooks = append(hooks, fn)
		}
	}
	c.hooks = make(map[int]func())
	c.order = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
