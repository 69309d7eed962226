package network

import (
	"errors"
	"sync"
)

var ErrPubSubClosed = errors.New("network: pubsub closed")

// MemoryPubSub is a process-local transport used for development and tests. Publish blocks
// until every live subscriber has taken the message, so nothing is lost to a full buffer.
type MemoryPubSub struct {
	mu     sync.RWMutex
	nextID int
	closed bool
	subs   map[string]map[int]*memorySub
	buffer int
}

type memorySub struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

// release unblocks publishers waiting on this subscriber.
func (s *memorySub) release() {
	s.once.Do(func() { close(s.done) })
}

func NewMemoryPubSub() *MemoryPubSub {
	return NewMemoryPubSubSize(64)
}

// NewMemoryPubSubSize sets the per-subscriber buffer. Publishers wait once it is full.
func NewMemoryPubSubSize(buffer int) *MemoryPubSub {
	if buffer <= 0 {
		buffer = 1
	}
	return &MemoryPubSub{subs: make(map[string]map[int]*memorySub), buffer: buffer}
}

// Publish delivers payload to every subscriber of topic in turn. It waits on a full
// subscriber until that subscriber reads or is cancelled.
func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrPubSubClosed
	}
	for _, sub := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrPubSubClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]*memorySub)
	}
	id := m.nextID
	m.nextID++
	sub := &memorySub{ch: make(chan Message, m.buffer), done: make(chan struct{})}
	m.subs[topic][id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Release first: a publisher blocked on sub holds the read lock.
			sub.release()
			m.mu.Lock()
			defer m.mu.Unlock()
			if subsByTopic, ok := m.subs[topic]; ok {
				if _, exists := subsByTopic[id]; exists {
					delete(subsByTopic, id)
					close(sub.ch)
				}
				if len(subsByTopic) == 0 {
					delete(m.subs, topic)
				}
			}
		})
	}
	return sub.ch, cancel, nil
}

// Subscribers reports how many live subscriptions topic has.
func (m *MemoryPubSub) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close ends every subscription. Later publishes fail with ErrPubSubClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.RLock()
	for _, subsByTopic := range m.subs {
		for _, sub := range subsByTopic {
			sub.release()
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subsByTopic := range m.subs {
		for id, sub := range subsByTopic {
			sub.release()
			delete(subsByTopic, id)
			close(sub.ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
