// Package nowplaying merges the sessions of every source the receiver knows
// about into the single song that is currently playing.
package nowplaying

import (
	"sync"

	"github.com/genricoloni/tabcast/internal/protocol"
	"go.uber.org/zap"
)

// Priorities of the built-in sources. Browser sessions win over local players.
const (
	PriorityPlayer  = 0
	PriorityBrowser = 1
)

type module struct {
	priority int
	info     *protocol.PlayInfo
}

// Manager tracks one module per source and reports the playing module with
// the highest priority. A nil PlayInfo means nothing is playing.
type Manager struct {
	logger   *zap.Logger
	onChange func(*protocol.PlayInfo)

	mu      sync.Mutex
	modules map[int]*module
	current int
	hasCur  bool
	nextID  int
}

// NewManager creates an empty manager. onChange runs with the manager locked,
// so it sees changes in order and must not call back into the manager.
func NewManager(logger *zap.Logger, onChange func(*protocol.PlayInfo)) *Manager {
	return &Manager{
		logger:   logger,
		onChange: onChange,
		modules:  make(map[int]*module),
	}
}

// Create registers a paused module and returns its id
func (m *Manager) Create(priority int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.modules[id] = &module{priority: priority}
	return id
}

// Update replaces the state of a module. Modules below the priority of the
// current one are recorded without an announcement.
func (m *Manager) Update(id int, info *protocol.PlayInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mod, ok := m.modules[id]
	if !ok {
		m.logger.Debug("Update for unknown module", zap.Int("module", id))
		return
	}
	mod.info = info

	if m.hasCur {
		if cur, ok := m.modules[m.current]; ok && mod.priority < cur.priority {
			return
		}
	}
	m.recompute(id)
}

// Remove drops a module, announcing a new state if it was the current one
func (m *Manager) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.modules[id]; !ok {
		return
	}
	delete(m.modules, id)
	if m.hasCur && m.current == id {
		m.recompute(id)
	}
}

// Current returns the announced song, nil when nothing plays
func (m *Manager) Current() *protocol.PlayInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasCur {
		return nil
	}
	if mod, ok := m.modules[m.current]; ok {
		return mod.info
	}
	return nil
}

func (m *Manager) recompute(updated int) {
	best, found := -1, false
	for id, mod := range m.modules {
		if mod.info == nil {
			continue
		}
		if !found || m.better(id, mod, best) {
			best, found = id, true
		}
	}

	if !found {
		if !m.hasCur {
			return
		}
		m.hasCur = false
		m.logger.Debug("Nothing playing", zap.Int("module", updated))
		m.announce(nil)
		return
	}

	// the current module kept its place and something else changed
	if m.hasCur && m.current == best && updated != best {
		return
	}

	m.current, m.hasCur = best, true
	info := m.modules[best].info
	m.logger.Debug("Now playing",
		zap.Int("module", best),
		zap.String("title", info.Title),
		zap.String("source", info.Source))
	m.announce(info)
}

// better orders by priority, then keeps the current module, then the oldest
func (m *Manager) better(id int, mod *module, best int) bool {
	other := m.modules[best]
	if mod.priority != other.priority {
		return mod.priority > other.priority
	}
	if m.hasCur && (id == m.current || best == m.current) {
		return id == m.current
	}
	return id < best
}

func (m *Manager) announce(info *protocol.PlayInfo) {
	if m.onChange == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("Now playing callback panicked", zap.Any("panic", p))
		}
	}()
	m.onChange(info)
}
