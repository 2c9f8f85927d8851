package registration

import (
	"context"
	"sync"
	"time"
)

// Cached is what the device remembers about its last successful registration.
type Cached struct {
	UserID    string
	Token     string
	LoggedIn  bool
	UpdatedAt time.Time
}

// Cache persists Cached on the device. Load returns a zero value when nothing
// has been stored yet.
type Cache interface {
	Load(ctx context.Context) (Cached, error)
	Save(ctx context.Context, c Cached) error
}

// MemoryCache keeps the values in process memory.
type MemoryCache struct {
	mu sync.Mutex
	c  Cached
}

func (m *MemoryCache) Load(context.Context) (Cached, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c, nil
}

func (m *MemoryCache) Save(_ context.Context, c Cached) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}
