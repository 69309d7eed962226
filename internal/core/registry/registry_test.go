package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"Assembler-Trainman/internal/core/envelope"
)

func TestRegisterRejectsDuplicateWithoutTouchingQueue(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "https://a.test", "https://a.test/app")
	require.NoError(t, err)
	require.NoError(t, r.Enqueue("c1", envelope.Envelope{Topic: "greet"}))

	_, err = r.Register("c1", "https://b.test", "https://b.test/app")
	require.ErrorIs(t, err, ErrDuplicateIdentity)

	rec, err := r.Get("c1")
	require.NoError(t, err)
	require.Equal(t, "https://a.test", rec.ExpectedOrigin)
	require.Equal(t, 1, rec.Queued())
}

func TestGetUnknownIdentity(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, r.SetState("nope", StateConnected), ErrNotFound)
	require.ErrorIs(t, r.Enqueue("nope", envelope.Envelope{Topic: "x"}), ErrNotFound)
	_, err = r.Drain("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDrainIsFIFOAndEmptiesQueue(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "https://a.test", "h")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Enqueue("c1", envelope.Envelope{Topic: fmt.Sprintf("t%d", i)}))
	}

	out, err := r.Drain("c1")
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i, env := range out {
		require.Equal(t, fmt.Sprintf("t%d", i), env.Topic)
	}

	again, err := r.Drain("c1")
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestEnqueueRefusedWhileConnected(t *testing.T) {
	r := New()
	_, err := r.Register("c1", "https://a.test", "h")
	require.NoError(t, err)
	require.NoError(t, r.SetState("c1", StateConnected))
	require.ErrorIs(t, r.Enqueue("c1", envelope.Envelope{Topic: "x"}), ErrQueueWhileConnected)
}

func TestLearnCompletesUnknownRecord(t *testing.T) {
	r := New()
	rec, err := r.Register("host", "", "")
	require.NoError(t, err)
	require.False(t, rec.Known())

	require.NoError(t, r.Learn("host", "https://host.test", "https://host.test/"))
	require.True(t, rec.Known())
	require.Equal(t, "https://host.test", rec.ExpectedOrigin)
	require.Equal(t, "https://host.test/", rec.Handle)
}

func TestIdentitiesKeepRegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"b", "a", "c"} {
		_, err := r.Register(id, "o", "h")
		require.NoError(t, err)
	}
	require.Equal(t, []string{"b", "a", "c"}, r.Identities())
	require.Equal(t, 3, r.Len())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "handshaking", StateHandshaking.String())
}
