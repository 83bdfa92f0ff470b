package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is a single-instance Store. Expired entries stay in the map until
// Sweep runs but are never returned by Get.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*Transaction
	settled map[string]memoryMarker
}

type memoryMarker struct {
	SettledMarker
	expiresAt time.Time
}

// NewMemory returns an empty store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:     now,
		entries: make(map[string]*Transaction),
		settled: make(map[string]memoryMarker),
	}
}

func (m *Memory) Put(_ context.Context, tx *Transaction, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[tx.ShortCode]; ok && !cur.Expired(now) {
		return ErrAlreadyExists
	}
	tx.CreatedAt = now
	tx.ExpiresAt = now.Add(ttl)
	cp := *tx
	m.entries[tx.ShortCode] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, code string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[code]
	if !ok || cur.Expired(m.now()) {
		return nil, ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (m *Memory) Remove(_ context.Context, code string) error {
	m.mu.Lock()
	delete(m.entries, code)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RemoveIfReference(_ context.Context, code, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[code]; ok && cur.ReferenceNumber == reference {
		delete(m.entries, code)
	}
	return nil
}

func (m *Memory) MarkSettled(_ context.Context, code string, marker SettledMarker, ttl time.Duration) error {
	m.mu.Lock()
	m.settled[code] = memoryMarker{SettledMarker: marker, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Settled(_ context.Context, code string) (SettledMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.settled[code]
	if !ok || m.now().After(mk.expiresAt) {
		return SettledMarker{}, ErrNotFound
	}
	return mk.SettledMarker, nil
}

// Sweep drops expired entries and markers and returns how many entries went.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for code, tx := range m.entries {
		if tx.Expired(now) {
			delete(m.entries, code)
			n++
		}
	}
	for code, mk := range m.settled {
		if now.After(mk.expiresAt) {
			delete(m.settled, code)
		}
	}
	return n
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && logger != nil {
				logger.Debug("pending sweep", "removed", n)
			}
		}
	}
}
