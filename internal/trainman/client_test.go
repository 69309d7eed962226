package trainman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/registry"
)

func TestClientQueuesWhileHostAbsent(t *testing.T) {
	f := newFixture(t)
	tp := f.tap(hostAddr)
	c, _ := f.client(clientAddr)

	require.NoError(t, c.Send("ping", nil))
	require.NoError(t, c.Send("ping", map[string]int{"n": 2}))
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, registry.StateDisconnected, c.State())
	require.Equal(t, 2, c.Host().Queued)
	require.Zero(t, tp.count("ping"))
}

func TestHandshakeAcceptedFromUnknownOrigin(t *testing.T) {
	f := newFixture(t)
	c, _ := f.client(clientAddr)

	var got []string
	_, err := c.Subscribe("greet", func(m Message) { got = append(got, m.SourceOrigin) })
	require.NoError(t, err)

	c.dispatch(inbound(t, "greet", nil, "https://stranger.test/", "https://stranger.test"))
	require.Empty(t, got)

	c.dispatch(inbound(t, envelope.TopicHandshake, nil, "https://stranger.test/", "https://stranger.test"))
	require.Equal(t, registry.StateConnected, c.State())
	require.Equal(t, "https://stranger.test", c.Host().Origin)
	require.Equal(t, "https://stranger.test/", c.Host().Handle)

	c.dispatch(inbound(t, "greet", nil, "https://other.test/", "https://other.test"))
	require.Empty(t, got)
	c.dispatch(inbound(t, "greet", nil, "https://stranger.test/", "https://stranger.test"))
	require.Equal(t, []string{"https://stranger.test"}, got)
}

func TestClientAnswersOnlyFirstHandshake(t *testing.T) {
	f := newFixture(t)
	tp := f.tap(hostAddr)
	c, _ := f.client(clientAddr)
	require.NoError(t, c.Send("hello", "queued"))

	c.dispatch(inbound(t, envelope.TopicHandshake, nil, hostAddr, hostOrigin))
	c.dispatch(inbound(t, envelope.TopicHandshake, nil, "https://intruder.test/", "https://intruder.test"))

	require.Eventually(t, func() bool {
		return tp.count(envelope.TopicBackHandshake) == 1 && tp.count("hello") == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, tp.count(envelope.TopicBackHandshake))
	require.Equal(t, hostOrigin, c.Host().Origin)
	require.Zero(t, c.Host().Queued)

	c.mu.Lock()
	require.Zero(t, c.subs.Len(envelope.TopicHandshake))
	c.mu.Unlock()
}

func TestClientCloseNotifiesConnectedHost(t *testing.T) {
	f := newFixture(t)
	tp := f.tap(hostAddr)
	c, ch := f.client(clientAddr)
	c.dispatch(inbound(t, envelope.TopicHandshake, nil, hostAddr, hostOrigin))

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool {
		return tp.count(envelope.TopicClientDisconnected) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, tp.count(envelope.TopicClientDisconnected))
	require.ErrorIs(t, c.Send("late", nil), ErrClosed)
	_, err := c.Subscribe("late", func(Message) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestClientCloseBeforeHandshakeSendsNothing(t *testing.T) {
	f := newFixture(t)
	tp := f.tap(hostAddr)
	c, _ := f.client(clientAddr)
	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, tp.count(envelope.TopicClientDisconnected))
}

func TestClientUnsubscribe(t *testing.T) {
	f := newFixture(t)
	c, _ := f.client(clientAddr)
	c.dispatch(inbound(t, envelope.TopicHandshake, nil, hostAddr, hostOrigin))

	var a, b int
	subA, err := c.Subscribe("x", func(Message) { a++ })
	require.NoError(t, err)
	_, err = c.Subscribe("x", func(Message) { b++ })
	require.NoError(t, err)

	subA.Unsubscribe()
	subA.Unsubscribe()
	c.dispatch(inbound(t, "x", nil, hostAddr, hostOrigin))
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)

	c.Unsubscribe("x")
	c.Unsubscribe("x")
	c.Unsubscribe("never")
	c.dispatch(inbound(t, "x", nil, hostAddr, hostOrigin))
	require.Equal(t, 1, b)
	require.Equal(t, "x", subA.Topic())
	require.NotEmpty(t, subA.ID())
}

func TestPayloadPresenceIsPreserved(t *testing.T) {
	f := newFixture(t)
	h := f.host(ClientSpec{ID: "c1", Address: clientAddr})
	c, _ := f.client(clientAddr)

	type seen struct {
		has  bool
		data string
	}
	got := &recorder[seen]{}
	_, err := c.Subscribe("p", func(m Message) { got.add(seen{has: m.HasData(), data: string(m.Data)}) })
	require.NoError(t, err)

	f.awaitConnected(h, "c1")
	require.NoError(t, h.Send("c1", "p", nil))
	require.NoError(t, h.Send("c1", "p", []byte(nil)))
	require.NoError(t, h.Send("c1", "p", 0))

	require.Eventually(t, func() bool { return len(got.values()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []seen{{has: false}, {has: true, data: "null"}, {has: true, data: "0"}}, got.values())
}

func TestTypedPublishAndListen(t *testing.T) {
	f := newFixture(t)
	h := f.host(ClientSpec{ID: "c1", Address: clientAddr})
	c, _ := f.client(clientAddr)

	scores := Topic[greet]("score")
	fromClient := &recorder[int]{}
	_, err := ListenClient(h, "c1", scores, func(_ Message, g greet) { fromClient.add(g.N) })
	require.NoError(t, err)
	fromHost := &recorder[int]{}
	_, err = Listen(c, scores, func(_ Message, g greet) { fromHost.add(g.N) })
	require.NoError(t, err)

	require.NoError(t, Publish(c, scores, greet{N: 3}))
	require.NoError(t, PublishClient(h, "c1", scores, greet{N: 4}))
	f.awaitConnected(h, "c1")

	require.Eventually(t, func() bool {
		return len(fromClient.values()) == 1 && len(fromHost.values()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{3}, fromClient.values())
	require.Equal(t, []int{4}, fromHost.values())

	// A payload of the wrong shape is dropped before the typed listener runs.
	c.dispatch(inbound(t, "score", "not an object", hostAddr, hostOrigin))
	require.Equal(t, []int{4}, fromHost.values())
}
