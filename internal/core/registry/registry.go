package registry

import (
	"errors"
	"fmt"

	"Assembler-Trainman/internal/core/envelope"
)

type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrDuplicateIdentity   = errors.New("registry: identity already registered")
	ErrNotFound            = errors.New("registry: identity not found")
	ErrQueueWhileConnected = errors.New("registry: cannot queue for a connected peer")
)

// Record is the state kept for one remote endpoint.
type Record struct {
	Identity       string
	ExpectedOrigin string
	// Handle addresses the peer through the channel.
	Handle string
	State  State

	known bool
	queue []envelope.Envelope
}

// Known reports whether the peer's origin has been established.
func (r *Record) Known() bool {
	return r.known
}

func (r *Record) Queued() int {
	return len(r.queue)
}

// Registry holds one record per remote identity. It does no locking of its own; the owning
// endpoint serializes access.
type Registry struct {
	records map[string]*Record
	order   []string
}

func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register adds a record. An empty origin registers the peer in its unknown form, to be
// completed later by Learn. Registering an existing identity is rejected and leaves the
// existing record and its queue untouched.
func (r *Registry) Register(identity, expectedOrigin, handle string) (*Record, error) {
	if _, ok := r.records[identity]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, identity)
	}
	rec := &Record{
		Identity:       identity,
		ExpectedOrigin: expectedOrigin,
		Handle:         handle,
		State:          StateDisconnected,
		known:          expectedOrigin != "",
	}
	r.records[identity] = rec
	r.order = append(r.order, identity)
	return rec, nil
}

func (r *Registry) Get(identity string) (*Record, error) {
	rec, ok := r.records[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	return rec, nil
}

// Learn fills in the origin and handle of a peer first seen through an inbound message.
func (r *Registry) Learn(identity, origin, handle string) error {
	rec, err := r.Get(identity)
	if err != nil {
		return err
	}
	rec.ExpectedOrigin = origin
	rec.Handle = handle
	rec.known = true
	return nil
}

// SetState moves identity to state. Endpoints route every transition through it.
func (r *Registry) SetState(identity string, state State) error {
	rec, err := r.Get(identity)
	if err != nil {
		return err
	}
	rec.State = state
	return nil
}

func (r *Registry) Enqueue(identity string, env envelope.Envelope) error {
	rec, err := r.Get(identity)
	if err != nil {
		return err
	}
	if rec.State == StateConnected {
		return fmt.Errorf("%w: %q", ErrQueueWhileConnected, identity)
	}
	rec.queue = append(rec.queue, env)
	return nil
}

// Drain removes and returns every queued envelope in enqueue order.
func (r *Registry) Drain(identity string) ([]envelope.Envelope, error) {
	rec, err := r.Get(identity)
	if err != nil {
		return nil, err
	}
	out := rec.queue
	rec.queue = nil
	return out, nil
}

// Identities lists registered identities in registration order.
func (r *Registry) Identities() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	return len(r.records)
}
