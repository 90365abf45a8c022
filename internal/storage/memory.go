package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps keys in process memory. Two Stores sharing one
// MemoryStorage behave like two tabs sharing durable storage.
type MemoryStorage struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[int]chan Change
	nextID   int
	closed   bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:   make(map[string]string),
		watchers: make(map[int]chan Change),
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	m.broadcast(Change{Key: key, Value: value})
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	m.broadcast(Change{Key: key, Removed: true})
	return nil
}

func (m *MemoryStorage) Watch(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.nextID
	m.nextID++
	ch := make(chan Change, 64)
	m.watchers[id] = ch

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if w, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w)
		}
	}()

	return ch, nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, w := range m.watchers {
		delete(m.watchers, id)
		close(w)
	}
	return nil
}

// broadcast must be called with m.mu held. Slow watchers drop changes
// rather than block writers.
func (m *MemoryStorage) broadcast(c Change) {
	for _, w := range m.watchers {
		select {
		case w <- c:
		default:
		}
	}
}
