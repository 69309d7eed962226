package trainman

import (
	"github.com/benbjohnson/clock"

	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/registry"
)

// probe is one running HANDSHAKE ticker. A probe is stopped exactly once, by whoever
// removes it from Host.probes.
type probe struct {
	ticker *clock.Ticker
	stop   chan struct{}
}

// beginHandshakeLocked enters HANDSHAKING for rec: a probe ticker is started and a
// one-time BACK_HANDSHAKE listener is registered. The CLIENT_DISCONNECTED listener is
// registered once per client and survives reconnects.
func (h *Host) beginHandshakeLocked(rec *registry.Record, reconnect bool) {
	id := rec.Identity
	if reconnect {
		h.tracef("Restarting handshake polling for %q client...", id)
	} else {
		h.tracef("Starting handshake polling for %q client...", id)
	}
	h.setStateLocked(id, registry.StateHandshaking)
	h.startProbeLocked(id)

	if !h.subs.HasInternal(envelope.TopicBackHandshake, id) {
		h.subscribeLocked(envelope.TopicBackHandshake, id, func(Message) {
			h.onBackHandshake(id)
		}, true)
	}
	if !h.subs.HasInternal(envelope.TopicClientDisconnected, id) {
		h.subscribeLocked(envelope.TopicClientDisconnected, id, func(Message) {
			h.onClientDisconnected(id)
		}, true)
	}
}

func (h *Host) startProbeLocked(id string) {
	if _, running := h.probes[id]; running {
		return
	}
	p := &probe{
		ticker: h.cfg.Clock.Ticker(h.cfg.HandshakeInterval),
		stop:   make(chan struct{}),
	}
	h.probes[id] = p
	go h.runProbe(id, p)
}

func (h *Host) runProbe(id string, p *probe) {
	for {
		select {
		case <-p.stop:
			return
		case <-p.ticker.C:
			h.probeTick(id, p)
		}
	}
}

// probeTick sends one HANDSHAKE. Ticks from a probe that has since been stopped or
// replaced are discarded.
func (h *Host) probeTick(id string, p *probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.probes[id] != p {
		return
	}
	rec, err := h.peers.Get(id)
	if err != nil || rec.State != registry.StateHandshaking {
		return
	}
	h.m.Probe(h.role)
	h.transmitLocked(rec, envelope.Envelope{Topic: envelope.TopicHandshake})
}

func (h *Host) stopProbeLocked(id string) {
	p, ok := h.probes[id]
	if !ok {
		return
	}
	delete(h.probes, id)
	p.ticker.Stop()
	close(p.stop)
	h.tracef("Handshake polling for %q client was stopped", id)
}

func (h *Host) onBackHandshake(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	rec, err := h.peers.Get(id)
	if err != nil || rec.State == registry.StateConnected {
		return
	}
	h.stopProbeLocked(id)
	h.subs.RemoveInternal(envelope.TopicBackHandshake, id)
	h.tracef("Client %q was connected", id)
	h.connectLocked(rec)
}

func (h *Host) onClientDisconnected(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	rec, err := h.peers.Get(id)
	if err != nil || rec.State != registry.StateConnected {
		return
	}
	h.tracef("Client %q was disconnected", id)
	h.beginHandshakeLocked(rec, true)
}
