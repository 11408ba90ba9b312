package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"claim-enricher/internal/common/logging"
)

// Manager hands out one breaker per name, typically one per backend host
type Manager struct {
	breakers map[string]*GoBreakerAdapter
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager whose breakers all share config
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		breakers: make(map[string]*GoBreakerAdapter),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string) *GoBreakerAdapter {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker = NewGoBreaker(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Execute executes fn with the protection of the breaker called name
func (m *Manager) Execute(ctx context.Context, name string, fn func() error) error {
	return m.GetOrCreate(name).Execute(ctx, fn)
}

// AllStats returns statistics for all circuit breakers, ordered by name
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}
