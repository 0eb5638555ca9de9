package bus

import (
	"context"
	"sync"
)

// Memory is an in-process Bus used by tests and broker-less runs.  It mirrors
// broker semantics: every delivery happens on its own goroutine, so handlers
// run concurrently just as they would behind a real broker.
type Memory struct {
	mu         sync.RWMutex
	subs       map[string]map[int]Handler
	responders map[string]Responder
	nextID     int
	closed     bool
	wg         sync.WaitGroup
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		subs:       make(map[string]map[int]Handler),
		responders: make(map[string]Responder),
	}
}

func (m *Memory) Publish(topic string, data []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[topic]))
	for _, fn := range m.subs[topic] {
		handlers = append(handlers, fn)
	}
	// Add while still holding the lock: Close sets closed under the write
	// lock before it waits, so every counted handler is visible to Wait.
	m.wg.Add(len(handlers))
	m.mu.RUnlock()

	for _, fn := range handlers {
		go func(fn Handler) {
			defer m.wg.Done()
			fn(data)
		}(fn)
	}
	return nil
}

func (m *Memory) Subscribe(topic string, fn Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[topic][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.subs, topic)
			}
		}
	}, nil
}

func (m *Memory) Request(ctx context.Context, topic string, data []byte) ([]byte, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	fn, ok := m.responders[topic]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNoResponder
	}

	reply := make(chan []byte, 1)
	go func() { reply <- fn(data) }()

	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Respond(topic string, fn Responder) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.responders[topic] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.responders, topic)
	}, nil
}

// Close stops accepting traffic and waits for in-flight handlers to finish.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
