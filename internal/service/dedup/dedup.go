// Package dedup suppresses redelivered inbound messages.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Deduplicator is the delivery gate. FirstDelivery records id and reports
// true unless id was already seen within the retention window. An empty id
// is always a first delivery.
type Deduplicator interface {
	FirstDelivery(ctx context.Context, id string) bool
}

// Memory is a process-local Deduplicator with per-entry expiry.
type Memory struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewMemory creates a Memory deduplicator.
func NewMemory(window time.Duration) *Memory {
	return &Memory{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// FirstDelivery implements Deduplicator.
func (m *Memory) FirstDelivery(_ context.Context, id string) bool {
	if id == "" {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	if expires, ok := m.seen[id]; ok && now.Before(expires) {
		return false
	}
	m.seen[id] = now.Add(m.window)
	return true
}

// Len returns the number of retained ids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	for id, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, id)
		}
	}
	m.lastSweep = now
}
