package cache

import (
	"sync"
	"time"

	"spendly/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Take(key string) (T, bool)
	Set(key string, data T)
	SetWithTTL(key string, data T, ttl time.Duration)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically sweeps registered caches
type Manager struct {
	mu          sync.Mutex
	caches      []Cleaner
	logger      *log.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
	started     bool
}

// NewManager creates a new cache manager
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		logger:      logger,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager for cleanup
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.cleanup(interval)
}

// Sweep runs one cleanup pass and returns the number of entries removed
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && m.logger != nil {
				m.logger.Debug("Expired cache entries removed", log.FieldCount, n)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup routine; safe to call more than once
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.cleanupDone
		}
	})
}
