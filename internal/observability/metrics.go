package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"Assembler-Trainman/internal/core/envelope"
)

// ApplicationTopic is the topic label shared by every non-reserved topic.
const ApplicationTopic = "application"

// Drop reasons.
const (
	DropUntrustedOrigin  = "untrusted_origin"
	DropMalformed        = "malformed"
	DropNoListener       = "no_listener"
	DropTransportFailure = "transport_failure"
)

// Metrics counts protocol activity for one process. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	sent       *prometheus.CounterVec
	queued     *prometheus.CounterVec
	flushed    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	probes     *prometheus.CounterVec
}

// NewMetrics registers the counters with reg. Pass prometheus.DefaultRegisterer to expose
// them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "envelopes",
			Name:      "sent_total",
			Help:      "Envelopes handed to the transport, by reserved topic or \"application\".",
		}, []string{"role", "topic"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "envelopes",
			Name:      "queued_total",
			Help:      "Envelopes queued while the peer was not connected.",
		}, []string{"role"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "envelopes",
			Name:      "flushed_total",
			Help:      "Queued envelopes transmitted on connection.",
		}, []string{"role"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "envelopes",
			Name:      "dropped_total",
			Help:      "Inbound or outbound envelopes dropped.",
		}, []string{"role", "reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "handshake",
			Name:      "completed_total",
			Help:      "Handshakes that reached the connected state.",
		}, []string{"role"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainman",
			Subsystem: "handshake",
			Name:      "probes_total",
			Help:      "HANDSHAKE probes sent by initiators.",
		}, []string{"role"}),
	}
	if reg != nil {
		reg.MustRegister(m.sent, m.queued, m.flushed, m.dropped, m.handshakes, m.probes)
	}
	return m
}

func (m *Metrics) Sent(role, topic string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(role, topicLabel(topic)).Inc()
}

// topicLabel keeps the label set bounded: application topics are caller-chosen.
func topicLabel(topic string) string {
	if envelope.IsReserved(topic) {
		return topic
	}
	return ApplicationTopic
}

func (m *Metrics) Queued(role string) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(role).Inc()
}

func (m *Metrics) Flushed(role string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.flushed.WithLabelValues(role).Add(float64(n))
}

func (m *Metrics) Dropped(role, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(role, reason).Inc()
}

func (m *Metrics) HandshakeCompleted(role string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(role).Inc()
}

func (m *Metrics) Probe(role string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(role).Inc()
}
