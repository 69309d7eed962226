package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Assembler-Trainman/internal/core/envelope"
	"Assembler-Trainman/internal/core/network"
)

func recv(t *testing.T, ch <-chan Inbound) Inbound {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound")
		return Inbound{}
	}
}

func TestOriginOf(t *testing.T) {
	cases := map[string]string{
		"https://a.test":               "https://a.test",
		"https://a.test/app/index.html": "https://a.test",
		"HTTP://Host.Test:8080/x":       "http://host.test:8080",
		"/ip4/127.0.0.1/tcp/4001":       "/ip4/127.0.0.1/tcp/4001",
	}
	for addr, want := range cases {
		got, err := OriginOf(addr)
		require.NoError(t, err, addr)
		require.Equal(t, want, got, addr)
	}
	for _, bad := range []string{"a.test/app", "/notaproto/1", ""} {
		_, err := Resolve(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestSendToDeliversFrameWithSenderIdentity(t *testing.T) {
	ps := network.NewMemoryPubSub()
	host, err := New(ps, "https://host.test/", Options{})
	require.NoError(t, err)
	client, err := New(ps, "https://a.test/app", Options{})
	require.NoError(t, err)

	in, cancel, err := client.Listen()
	require.NoError(t, err)
	defer cancel()

	env, err := envelope.New("greet", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, host.SendTo(client.Handle(), env, client.Origin()))

	got := recv(t, in)
	require.Equal(t, "https://host.test/", got.Sender)
	require.Equal(t, "https://host.test", got.Origin)
	decoded, err := envelope.Decode(got.Payload)
	require.NoError(t, err)
	require.Equal(t, "greet", decoded.Topic)
	require.JSONEq(t, `{"n":1}`, string(decoded.Data))
}

func TestTargetOriginMismatchIsDropped(t *testing.T) {
	ps := network.NewMemoryPubSub()
	host, err := New(ps, "https://host.test/", Options{})
	require.NoError(t, err)
	client, err := New(ps, "https://a.test/app", Options{})
	require.NoError(t, err)

	in, cancel, err := client.Listen()
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, host.SendTo(client.Handle(), envelope.Envelope{Topic: "wrong"}, "https://b.test"))
	require.NoError(t, host.SendTo(client.Handle(), envelope.Envelope{Topic: "any"}, AnyOrigin))

	got := recv(t, in)
	decoded, err := envelope.Decode(got.Payload)
	require.NoError(t, err)
	require.Equal(t, "any", decoded.Topic)
}

func TestUnreadableFramesAreSkipped(t *testing.T) {
	ps := network.NewMemoryPubSub()
	client, err := New(ps, "https://a.test/app", Options{})
	require.NoError(t, err)
	in, cancel, err := client.Listen()
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(DefaultMailboxPrefix+client.Handle(), []byte("garbage")))
	good, _ := json.Marshal(frame{From: "x", Origin: "https://x.test", Payload: json.RawMessage(`{"topic":"ok"}`)})
	require.NoError(t, ps.Publish(DefaultMailboxPrefix+client.Handle(), good))

	got := recv(t, in)
	require.Equal(t, "x", got.Sender)
	require.JSONEq(t, `{"topic":"ok"}`, string(got.Payload))
}

func TestCloseRunsHooksBeforeRefusingSends(t *testing.T) {
	ps := network.NewMemoryPubSub()
	c, err := New(ps, "https://a.test/app", Options{})
	require.NoError(t, err)

	var order []string
	c.OnClose(func() {
		order = append(order, "first")
		require.NoError(t, c.SendTo("https://host.test/", envelope.Envelope{Topic: "bye"}, ""))
	})
	remove := c.OnClose(func() { order = append(order, "removed") })
	c.OnClose(func() { order = append(order, "second") })
	remove()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, []string{"first", "second"}, order)
	require.ErrorIs(t, c.SendTo("https://host.test/", envelope.Envelope{Topic: "late"}, ""), ErrClosed)
	_, _, err = c.Listen()
	require.ErrorIs(t, err, ErrClosed)
}
