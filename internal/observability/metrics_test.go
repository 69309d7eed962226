package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"Assembler-Trainman/internal/core/envelope"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Sent("host", "greet")
	m.Sent("host", "score")
	m.Sent("host", envelope.TopicHandshake)
	m.Queued("client")
	m.Flushed("client", 3)
	m.Flushed("client", 0)
	m.Dropped("host", DropUntrustedOrigin)
	m.HandshakeCompleted("host")
	m.Probe("host")

	require.Equal(t, 2.0, testutil.ToFloat64(m.sent.WithLabelValues("host", ApplicationTopic)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("host", envelope.TopicHandshake)))
	require.Equal(t, 2, testutil.CollectAndCount(m.sent))
	require.Equal(t, 1.0, testutil.ToFloat64(m.queued.WithLabelValues("client")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.flushed.WithLabelValues("client")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("host", DropUntrustedOrigin)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("host")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("host")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Sent("host", "x")
	m.Queued("host")
	m.Flushed("host", 1)
	m.Dropped("host", DropMalformed)
	m.HandshakeCompleted("host")
	m.Probe("host")
}
