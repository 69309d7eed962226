package subscription

import "github.com/google/uuid"

// Entry is one listener registration.
type Entry[H any] struct {
	ID    string
	Topic string
	// Owner scopes the entry to one remote identity on fan-out endpoints.
	Owner    string
	Handler  H
	Internal bool
}

// Table maps topic to listeners in insertion order. Not safe for concurrent use.
type Table[H any] struct {
	topics map[string][]*Entry[H]
}

func NewTable[H any]() *Table[H] {
	return &Table[H]{topics: make(map[string][]*Entry[H])}
}

func (t *Table[H]) Add(topic, owner string, handler H, internal bool) *Entry[H] {
	e := &Entry[H]{
		ID:       uuid.NewString(),
		Topic:    topic,
		Owner:    owner,
		Handler:  handler,
		Internal: internal,
	}
	t.topics[topic] = append(t.topics[topic], e)
	return e
}

// Remove deletes exactly the given entry. It reports whether the entry was present.
func (t *Table[H]) Remove(e *Entry[H]) bool {
	if e == nil {
		return false
	}
	removed := false
	t.filter(e.Topic, func(x *Entry[H]) bool {
		if x == e {
			removed = true
			return false
		}
		return true
	})
	return removed
}

// RemoveTopic deletes the application entries of topic. When scoped, only entries owned by
// owner are removed. Internal entries are kept.
func (t *Table[H]) RemoveTopic(topic, owner string, scoped bool) int {
	n := 0
	t.filter(topic, func(x *Entry[H]) bool {
		if x.Internal || (scoped && x.Owner != owner) {
			return true
		}
		n++
		return false
	})
	return n
}

// RemoveInternal deletes the internal entries of topic owned by owner.
func (t *Table[H]) RemoveInternal(topic, owner string) int {
	n := 0
	t.filter(topic, func(x *Entry[H]) bool {
		if x.Internal && x.Owner == owner {
			n++
			return false
		}
		return true
	})
	return n
}

// RemoveOwner deletes all application entries owned by owner across topics.
func (t *Table[H]) RemoveOwner(owner string) int {
	n := 0
	for topic := range t.topics {
		n += t.RemoveTopic(topic, owner, true)
	}
	return n
}

func (t *Table[H]) HasInternal(topic, owner string) bool {
	for _, x := range t.topics[topic] {
		if x.Internal && x.Owner == owner {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the entries for topic. Mutating the table afterwards does not
// affect the returned slice.
func (t *Table[H]) Snapshot(topic string) []*Entry[H] {
	entries := t.topics[topic]
	if len(entries) == 0 {
		return nil
	}
	return append([]*Entry[H](nil), entries...)
}

func (t *Table[H]) Len(topic string) int {
	return len(t.topics[topic])
}

// filter keeps entries for which keep returns true. The backing array is never reused so
// that outstanding snapshots stay intact.
func (t *Table[H]) filter(topic string, keep func(*Entry[H]) bool) {
	entries, ok := t.topics[topic]
	if !ok {
		return
	}
	out := make([]*Entry[H], 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		delete(t.topics, topic)
		return
	}
	t.topics[topic] = out
}
