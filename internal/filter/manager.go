package filter

import (
	"sync"

	"github.com/genricoloni/tabcast/internal/domain"
	"go.uber.org/zap"
)

// Manager keeps a Filter in sync with the settings source and tells a listener
// when the effective filter changed.
type Manager struct {
	logger      *zap.Logger
	filter      *Filter
	mu          sync.Mutex
	onUpdate    func()
	unsubscribe func()
}

// NewManager subscribes filter to source. The subscription delivers the current
// settings right away, so the filter is up to date when NewManager returns.
func NewManager(logger *zap.Logger, filter *Filter, source domain.SettingsSource) *Manager {
	m := &Manager{
		logger: logger,
		filter: filter,
	}
	m.unsubscribe = source.Subscribe(m.handleSettings)
	return m
}

// SetUpdateListener sets the function called after every effective filter change.
// It may be called from the settings source's goroutine and must not block.
func (m *Manager) SetUpdateListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Filter returns the managed filter
func (m *Manager) Filter() *Filter {
	return m.filter
}

// Close removes the settings subscription
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Manager) handleSettings(s domain.Settings) {
	if !m.filter.Set(s.Filter) {
		return
	}

	cfg := m.filter.Config()
	m.logger.Info("Filter updated",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("includeFocusedTabs", cfg.IncludeFocusedTabs))

	m.mu.Lock()
	onUpdate := m.onUpdate
	m.mu.Unlock()

	if onUpdate != nil {
		onUpdate()
	}
}
