package source

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource keeps users and queries in memory. Users are returned in
// insertion order.
type MemorySource struct {
	mu      sync.RWMutex
	users   []User
	queries map[string][]Query
}

func NewMemorySource() *MemorySource {
	return &MemorySource{queries: make(map[string][]Query)}
}

// Add appends queries to u, registering the user on first use. An empty
// ID defaults to the name.
func (m *MemorySource) Add(u User, queries ...Query) {
	if u.ID == "" {
		u.ID = u.Name
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queries[u.ID]; !ok {
		m.users = append(m.users, u)
		m.queries[u.ID] = nil
	}
	m.queries[u.ID] = append(m.queries[u.ID], queries...)
}

func (m *MemorySource) Users(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]User, len(m.users))
	copy(out, m.users)
	return out, nil
}

func (m *MemorySource) Queries(ctx context.Context, u User) ([]Query, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	qs, ok := m.queries[u.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, u.ID)
	}
	out := make([]Query, len(qs))
	copy(out, qs)
	return out, nil
}
