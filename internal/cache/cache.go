// Package cache holds the in-process caches used to memoize rendered views.
package cache

import (
	"context"
	"sync"
	"time"

	applog "finboard/internal/log"
)

// Cache is the subset of LRUCache callers depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Purge()
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically cleans every registered cache until its context ends.
type Manager struct {
	mu     sync.Mutex
	caches []Cleaner
	logger *applog.Logger
	done   chan struct{}
}

func NewManager(logger *applog.Logger) *Manager {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Manager{logger: logger.WithComponent(applog.ComponentCache)}
}

// Register adds a cache to the cleanup rotation.
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Start runs cleanup every interval in a goroutine. Wait blocks until it
// returns after ctx is cancelled.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.CleanAll(); n > 0 {
					m.logger.Debug("Expired cache entries removed", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CleanAll runs one cleanup pass and returns the number of removed entries.
func (m *Manager) CleanAll() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

// Wait blocks until the cleanup goroutine has exited.
func (m *Manager) Wait() {
	if m.done != nil {
		<-m.done
	}
}
