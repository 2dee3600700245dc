// Package cache holds the summary caches the ledger can aggregate through.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var _ ledger.SummaryCache = (*Memory)(nil)

// Memory is an in-process summary cache. A zero TTL keeps entries until they
// are deleted.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]domain.Summary
	expiry  map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]domain.Summary),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (domain.Summary, bool, error) {
	m.mu.RLock()
	s, ok := m.entries[key]
	exp, hasExpiry := m.expiry[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if hasExpiry && !m.now().Before(exp) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, still := m.expiry[key]; still && !m.now().Before(cur) {
			delete(m.entries, key)
			delete(m.expiry, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return copySummary(s), true, nil
}

func (m *Memory) Set(_ context.Context, key string, s domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = copySummary(s)
	if m.ttl > 0 {
		m.expiry[key] = m.now().Add(m.ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
		delete(m.expiry, key)
	}
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for key, exp := range m.expiry {
		if !now.Before(exp) {
			delete(m.entries, key)
			delete(m.expiry, key)
			n++
		}
	}
	return n
}

// PurgeEvery runs Purge on every tick of interval until stop is called.
func (m *Memory) PurgeEvery(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Purge()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Len reports the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func copySummary(s domain.Summary) domain.Summary {
	out := make(domain.Summary, len(s))
	for rate, n := range s {
		out[rate] = n
	}
	return out
}
