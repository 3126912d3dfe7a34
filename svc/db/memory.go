package db

import (
	"context"
	"sync"
	"time"

	"sealbin/pkg/domain"
)

// Memory is an in-process payload store for development and tests. It keeps
// the same semantics as Redis: per-key TTL, absent reads return (nil, nil).
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	quit    chan struct{}
	once    sync.Once
}

type memEntry struct {
	payload  domain.Payload
	deadline time.Time // zero = no expiry
}

func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memEntry),
		quit:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for id, e := range m.entries {
				if !e.deadline.IsZero() && now.After(e.deadline) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		case <-m.quit:
			return
		}
	}
}

func (m *Memory) Set(ctx context.Context, id string, p *domain.Payload, ttl time.Duration) error {
	e := memEntry{payload: *p}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Payload, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return nil, nil
	}
	p := e.payload
	return &p, nil
}

func (m *Memory) TTL(ctx context.Context, id string) (time.Duration, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || e.deadline.IsZero() {
		return 0, nil
	}
	remaining := time.Until(e.deadline)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.quit) })
	return nil
}
