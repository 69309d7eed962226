package trainman

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"Assembler-Trainman/internal/core/channel"
	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/registry"
)

// ClientSpec names a client and the address it listens on.
type ClientSpec struct {
	ID      string
	Address string
}

// PeerStatus is a point-in-time view of one remote endpoint.
type PeerStatus struct {
	ID     string         `json:"id"`
	Origin string         `json:"origin"`
	Handle string         `json:"handle"`
	State  registry.State `json:"state"`
	Queued int            `json:"queued"`
}

func statusOf(rec *registry.Record) PeerStatus {
	return PeerStatus{
		ID:     rec.Identity,
		Origin: rec.ExpectedOrigin,
		Handle: rec.Handle,
		State:  rec.State,
		Queued: rec.Queued(),
	}
}

// Host fans out to many clients. It initiates the handshake toward every registered client
// and keeps probing until each one answers.
type Host struct {
	*endpoint
	probes map[string]*probe
}

func NewHost(ch channel.Channel, cfg Config, clients ...ClientSpec) (*Host, error) {
	h := &Host{
		endpoint: newEndpoint("host", "Trainman", ch, cfg),
		probes:   make(map[string]*probe),
	}
	h.trusted = h.trustedLocked
	h.tracef("Starting new Trainman instance")
	if err := h.start(); err != nil {
		return nil, err
	}
	for _, c := range clients {
		if err := h.AddClient(c.ID, c.Address); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

// AddClient registers a client and starts handshaking with it. Registering an id twice is
// rejected with ErrDuplicateIdentity; the existing client and its queue are kept.
func (h *Host) AddClient(id, address string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyIdentity
	}
	peer, err := h.ch.Resolve(address)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	rec, err := h.peers.Register(id, peer.Origin, peer.Handle)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateIdentity) {
			h.log.Warn("client already registered", zap.String("client", id))
			return fmt.Errorf("%w: %q", ErrDuplicateIdentity, id)
		}
		return err
	}
	h.beginHandshakeLocked(rec, false)
	return nil
}

// Send transmits to a connected client or queues until the handshake completes.
func (h *Host) Send(clientID, topic string, payload any) error {
	env, err := build(topic, payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	rec, err := h.clientLocked(clientID)
	if err != nil {
		return err
	}
	return h.sendLocked(rec, env)
}

// Subscribe registers fn for topic messages coming from clientID.
func (h *Host) Subscribe(clientID, topic string, fn Handler) (*Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("trainman: nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if _, err := h.clientLocked(clientID); err != nil {
		return nil, err
	}
	h.tracef("Adding %q topic listener for %q client", topic, clientID)
	return h.subscribeLocked(topic, clientID, fn, false), nil
}

// Unsubscribe removes the listeners clientID has on topic, or all of its listeners when
// topic is empty. It never fails; unknown clients and topics are no-ops.
func (h *Host) Unsubscribe(clientID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracef("Removing %q topic listener for %q client", topic, clientID)
	if topic == "" {
		h.subs.RemoveOwner(clientID)
		return
	}
	h.subs.RemoveTopic(topic, clientID, true)
}

func (h *Host) Peer(clientID string) (PeerStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, err := h.clientLocked(clientID)
	if err != nil {
		return PeerStatus{}, err
	}
	return statusOf(rec), nil
}

// Peers lists clients in registration order.
func (h *Host) Peers() []PeerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := h.peers.Identities()
	out := make([]PeerStatus, 0, len(ids))
	for _, id := range ids {
		if rec, err := h.peers.Get(id); err == nil {
			out = append(out, statusOf(rec))
		}
	}
	return out
}

// Close stops every handshake probe and the inbound stream. The channel is left open.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id := range h.probes {
		h.stopProbeLocked(id)
	}
	h.mu.Unlock()
	h.stop()
	return nil
}

func (h *Host) clientLocked(id string) (*registry.Record, error) {
	rec, err := h.peers.Get(id)
	if err != nil {
		h.log.Warn("client is not registered", zap.String("client", id))
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeer, id)
	}
	return rec, nil
}

// trustedLocked accepts HANDSHAKE unconditionally and anything else only from the
// origin and handle registered for the entry's owner.
func (h *Host) trustedLocked(x *entry, in channel.Inbound, topic string) bool {
	if envelope.IsHandshake(topic) {
		return true
	}
	rec, err := h.peers.Get(x.Owner)
	if err != nil || !rec.Known() {
		return false
	}
	return rec.ExpectedOrigin == in.Origin && rec.Handle == in.Sender
}
