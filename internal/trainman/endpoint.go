package trainman

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"Assembler-Trainman/internal/core/channel"
	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/registry"
	"Assembler-Trainman/internal/core/subscription"
	"Assembler-Trainman/internal/observability"
)

type Message = envelope.Message

// Handler receives one dispatched message.
type Handler func(Message)

type entry = subscription.Entry[Handler]

// endpoint is the state and dispatch loop shared by Host and Client. mu guards peers,
// subs and closed, and is never held while a Handler runs.
type endpoint struct {
	role   string
	prefix string
	ch     channel.Channel
	cfg    Config
	log    *zap.Logger
	m      *observability.Metrics

	mu     sync.Mutex
	peers  *registry.Registry
	subs   *subscription.Table[Handler]
	closed bool
	// trusted reports whether in may be delivered to e. Called with mu held.
	trusted func(e *entry, in channel.Inbound, topic string) bool

	// outbox holds envelopes in transmit order until the sender goroutine hands them to
	// the channel. Guarded by mu.
	outbox   []outbound
	draining bool
	wake     chan struct{}
	sendDone chan struct{}

	stopRecv func()
}

type outbound struct {
	peer   string
	handle string
	origin string
	env    envelope.Envelope
}

func newEndpoint(role, prefix string, ch channel.Channel, cfg Config) *endpoint {
	cfg = cfg.withDefaults()
	return &endpoint{
		role:   role,
		prefix: prefix,
		ch:     ch,
		cfg:    cfg,
		log:    cfg.Logger.Named(role).With(zap.String("handle", ch.Handle())),
		m:      cfg.Metrics,
		peers:  registry.New(),
		subs:   subscription.NewTable[Handler](),

		wake:     make(chan struct{}, 1),
		sendDone: make(chan struct{}),
	}
}

func (e *endpoint) start() error {
	go e.runSender()
	in, cancel, err := e.ch.Listen()
	if err != nil {
		e.finishSending()
		return fmt.Errorf("listen: %w", err)
	}
	e.stopRecv = cancel
	go func() {
		for msg := range in {
			e.dispatch(msg)
		}
	}()
	return nil
}

// stop cancels the inbound stream and waits until everything already transmitted has been
// handed to the channel. It does not wait for the receive goroutine, so it is safe to call
// from inside a Handler.
func (e *endpoint) stop() {
	if e.stopRecv != nil {
		e.stopRecv()
	}
	e.finishSending()
}

// runSender hands outbox envelopes to the channel in order. The channel may block under
// backpressure, so this never runs with mu held.
func (e *endpoint) runSender() {
	defer close(e.sendDone)
	for {
		e.mu.Lock()
		batch, draining := e.outbox, e.draining
		e.outbox = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			if draining {
				return
			}
			<-e.wake
			continue
		}
		for _, o := range batch {
			e.deliver(o)
		}
	}
}

func (e *endpoint) deliver(o outbound) {
	if err := e.ch.SendTo(o.handle, o.env, o.origin); err != nil {
		e.m.Dropped(e.role, observability.DropTransportFailure)
		e.log.Warn("transmit failed",
			zap.String("peer", o.peer), zap.String("topic", o.env.Topic), zap.Error(err))
		return
	}
	e.m.Sent(e.role, o.env.Topic)
}

// finishSending lets the sender flush the outbox and waits for it to exit.
func (e *endpoint) finishSending() {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()
	e.signalSender()
	<-e.sendDone
}

func (e *endpoint) signalSender() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *endpoint) tracef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.Debug(msg)
	if e.cfg.DebugEnabled && e.cfg.Debug != nil {
		e.cfg.Debug(e.prefix + ": " + msg)
	}
}

// dispatch delivers one inbound envelope to the listeners of its topic. The listener list
// is snapshotted before any Handler runs; trust is checked per entry right before its
// invocation.
func (e *endpoint) dispatch(in channel.Inbound) {
	env, err := envelope.Decode(in.Payload)
	if err != nil {
		e.m.Dropped(e.role, observability.DropMalformed)
		e.log.Warn("drop malformed envelope", zap.String("from", in.Sender), zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	entries := e.subs.Snapshot(env.Topic)
	if len(entries) == 0 {
		e.tracef("Received message with %q topic but there are no listeners than can handle it", env.Topic)
		e.mu.Unlock()
		e.m.Dropped(e.role, observability.DropNoListener)
		return
	}
	e.tracef("Received message with %q topic", env.Topic)
	e.mu.Unlock()

	msg := Message{
		Topic:        env.Topic,
		Source:       in.Sender,
		SourceOrigin: in.Origin,
		Data:         env.Data,
	}
	for _, x := range entries {
		e.mu.Lock()
		ok := !e.closed && e.trusted(x, in, env.Topic)
		e.mu.Unlock()
		if !ok {
			e.m.Dropped(e.role, observability.DropUntrustedOrigin)
			continue
		}
		x.Handler(msg)
	}
}

// sendLocked queues env while rec is not connected and transmits it otherwise.
func (e *endpoint) sendLocked(rec *registry.Record, env envelope.Envelope) error {
	if rec.State != registry.StateConnected {
		e.tracef("Adding message with %q topic to queue for %q", env.Topic, rec.Identity)
		if err := e.peers.Enqueue(rec.Identity, env); err != nil {
			return err
		}
		e.m.Queued(e.role)
		return nil
	}
	e.transmitLocked(rec, env)
	return nil
}

// transmitLocked appends env to the outbox for rec. Transport failures are logged and
// counted by the sender, not returned; delivery is best-effort either way.
func (e *endpoint) transmitLocked(rec *registry.Record, env envelope.Envelope) {
	e.tracef("Sending message with %q topic to %q", env.Topic, rec.Identity)
	if e.draining {
		e.m.Dropped(e.role, observability.DropTransportFailure)
		e.log.Warn("transmit after close", zap.String("peer", rec.Identity), zap.String("topic", env.Topic))
		return
	}
	e.outbox = append(e.outbox, outbound{
		peer:   rec.Identity,
		handle: rec.Handle,
		origin: rec.ExpectedOrigin,
		env:    env,
	})
	e.signalSender()
}

// setStateLocked records a state transition for identity.
func (e *endpoint) setStateLocked(identity string, state registry.State) {
	if err := e.peers.SetState(identity, state); err != nil {
		e.log.Warn("set state failed", zap.String("peer", identity), zap.Error(err))
	}
}

// connectLocked moves rec to connected and flushes its queue as one ordered batch.
func (e *endpoint) connectLocked(rec *registry.Record) {
	e.setStateLocked(rec.Identity, registry.StateConnected)
	e.m.HandshakeCompleted(e.role)
	queued, err := e.peers.Drain(rec.Identity)
	if err != nil || len(queued) == 0 {
		return
	}
	e.tracef("Delivering %d queued messages to %q", len(queued), rec.Identity)
	for _, env := range queued {
		e.transmitLocked(rec, env)
	}
	e.m.Flushed(e.role, len(queued))
}

func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrEmptyTopic
	}
	if envelope.IsReserved(topic) {
		return fmt.Errorf("%w: %q", ErrReservedTopic, topic)
	}
	return nil
}

// build validates an application topic and encodes its payload.
func build(topic string, payload any) (envelope.Envelope, error) {
	if err := validateTopic(topic); err != nil {
		return envelope.Envelope{}, err
	}
	return envelope.New(topic, payload)
}

func (e *endpoint) subscribeLocked(topic, owner string, h Handler, internal bool) *Subscription {
	x := e.subs.Add(topic, owner, h, internal)
	return &Subscription{e: e, entry: x}
}

func (e *endpoint) remove(x *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs.Remove(x) {
		e.tracef("Removing %q topic listener %s", x.Topic, x.ID)
	}
}

func (e *endpoint) badPayload(msg Message, err error) {
	e.m.Dropped(e.role, observability.DropMalformed)
	e.log.Warn("drop undecodable payload",
		zap.String("topic", msg.Topic), zap.String("from", msg.Source), zap.Error(err))
}

// Subscription is one listener registration. Unsubscribe removes exactly this listener.
type Subscription struct {
	e     *endpoint
	entry *entry
}

func (s *Subscription) ID() string    { return s.entry.ID }
func (s *Subscription) Topic() string { return s.entry.Topic }

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.e.remove(s.entry)
}
