// Package cache keeps short-lived till state outside the repository. Held
// orders only carry cart lines; prices and stock are always recomputed from a
// fresh catalog snapshot when an order is resumed.
package cache

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"etalase/backend/internal/domain"
)

var ErrHeldOrderNotFound = errors.New("held order not found")

type HeldOrderStore interface {
	Save(ctx context.Context, order domain.HeldOrder, ttl time.Duration) error
	// List returns the orders held for a scope, newest first. An empty
	// terminalID lists every terminal.
	List(ctx context.Context, scope domain.OutletScope, terminalID string) ([]domain.HeldOrder, error)
	// Take removes and returns an order so two terminals cannot resume it.
	Take(ctx context.Context, id string) (*domain.HeldOrder, error)
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	order     domain.HeldOrder
	expiresAt time.Time
}

// MemoryHeldOrderStore is used when no redis is configured.
type MemoryHeldOrderStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryHeldOrderStore() *MemoryHeldOrderStore {
	return &MemoryHeldOrderStore{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryHeldOrderStore) Save(_ context.Context, order domain.HeldOrder, ttl time.Duration) error {
	if strings.TrimSpace(order.ID) == "" || len(order.Lines) == 0 {
		return errors.New("held order needs an id and lines")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{order: cloneHeldOrder(order)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[order.ID] = entry
	return nil
}

func (m *MemoryHeldOrderStore) List(_ context.Context, scope domain.OutletScope, terminalID string) ([]domain.HeldOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpired()
	result := make([]domain.HeldOrder, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.order.Outlet != scope {
			continue
		}
		if terminalID != "" && entry.order.TerminalID != terminalID {
			continue
		}
		result = append(result, cloneHeldOrder(entry.order))
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *MemoryHeldOrderStore) Take(_ context.Context, id string) (*domain.HeldOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpired()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrHeldOrderNotFound
	}
	delete(m.entries, id)
	order := cloneHeldOrder(entry.order)
	return &order, nil
}

func (m *MemoryHeldOrderStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpired()
	if _, ok := m.entries[id]; !ok {
		return ErrHeldOrderNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryHeldOrderStore) evictExpired() {
	now := m.now()
	for id, entry := range m.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.entries, id)
		}
	}
}

func sortNewestFirst(orders []domain.HeldOrder) {
	slices.SortFunc(orders, func(a, b domain.HeldOrder) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
}

func cloneHeldOrder(src domain.HeldOrder) domain.HeldOrder {
	dup := src
	lines := make([]domain.CartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
