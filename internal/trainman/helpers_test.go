package trainman

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"Assembler-Trainman/internal/core/channel"
	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/network"
	"Assembler-Trainman/internal/core/registry"
)

const (
	hostAddr   = "https://host.test/"
	hostOrigin = "https://host.test"
	clientAddr = "https://a.test/app"
	clientOrig = "https://a.test"
	interval   = 50 * time.Millisecond
)

type fixture struct {
	t     *testing.T
	ps    *network.MemoryPubSub
	clock *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ps: network.NewMemoryPubSub(), clock: clock.NewMock()}
}

func (f *fixture) config() Config {
	return Config{HandshakeInterval: interval, Clock: f.clock}
}

func (f *fixture) channel(address string) *channel.PubSubChannel {
	f.t.Helper()
	ch, err := channel.New(f.ps, address, channel.Options{})
	require.NoError(f.t, err)
	return ch
}

func (f *fixture) host(clients ...ClientSpec) *Host {
	f.t.Helper()
	h, err := NewHost(f.channel(hostAddr), f.config(), clients...)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = h.Close() })
	return h
}

func (f *fixture) client(address string) (*Client, *channel.PubSubChannel) {
	f.t.Helper()
	ch := f.channel(address)
	c, err := NewClient(ch, f.config())
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = c.Close() })
	return c, ch
}

// awaitConnected advances the mock clock one probe interval at a time until the host
// reports clientID connected.
func (f *fixture) awaitConnected(h *Host, clientID string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		f.clock.Add(interval)
		st, err := h.Peer(clientID)
		return err == nil && st.State == registry.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

// tap subscribes directly to a mailbox and records the topic of every envelope that lands
// in it.
type tap struct {
	mu     sync.Mutex
	topics []string
}

func (f *fixture) tap(address string) *tap {
	f.t.Helper()
	msgs, cancel, err := f.ps.Subscribe(channel.DefaultMailboxPrefix + address)
	require.NoError(f.t, err)
	f.t.Cleanup(cancel)
	tp := &tap{}
	go func() {
		for msg := range msgs {
			var fr struct {
				Payload json.RawMessage `json:"payload"`
			}
			if json.Unmarshal(msg.Payload, &fr) != nil {
				continue
			}
			env, err := envelope.Decode(fr.Payload)
			if err != nil {
				continue
			}
			tp.mu.Lock()
			tp.topics = append(tp.topics, env.Topic)
			tp.mu.Unlock()
		}
	}()
	return tp
}

func (tp *tap) count(topic string) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	n := 0
	for _, x := range tp.topics {
		if x == topic {
			n++
		}
	}
	return n
}

// recorder collects values from a listener.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func inbound(t *testing.T, topic string, data any, sender, origin string) channel.Inbound {
	t.Helper()
	env, err := envelope.New(topic, data)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return channel.Inbound{Payload: b, Sender: sender, Origin: origin}
}
