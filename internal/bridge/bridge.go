// Package bridge receives tab and window events from the browser extension shim.
package bridge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Path is where the bridge is mounted
const Path = "/api/bridge"

const writeTimeout = 5 * time.Second

// ErrTabNotFound is returned by GetTab for tabs the browser has not reported or has closed
var ErrTabNotFound = errors.New("tab not found")

// Bridge is the domain.EventSource fed by the extension shim over a websocket.
// It accepts one shim session at a time and keeps the last known record of
// every tab and window so lookups never need a round trip.
type Bridge struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	events   chan domain.BrowserEvent

	mu        sync.RWMutex
	running   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	session   *session
	tabs      map[domain.TabID]domain.TabRecord
	windows   map[domain.WindowID]domain.WindowRecord
	sessionWG sync.WaitGroup
}

type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Info describes the connected shim
type Info struct {
	Connected bool   `json:"connected"`
	SessionID string `json:"sessionId,omitempty"`
}

// New creates a bridge. Connections are refused until Start.
func New(logger *zap.Logger) *Bridge {
	return &Bridge{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: allowOrigin,
		},
		events:  make(chan domain.BrowserEvent, 64),
		tabs:    make(map[domain.TabID]domain.TabRecord),
		windows: make(map[domain.WindowID]domain.WindowRecord),
	}
}

// allowOrigin accepts browser extensions and local tools
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "":
		return true
	case strings.HasPrefix(origin, "chrome-extension://"),
		strings.HasPrefix(origin, "moz-extension://"):
		return true
	default:
		return strings.Contains(origin, "://127.0.0.1") || strings.Contains(origin, "://localhost")
	}
}

// Start accepts shim connections until ctx is cancelled
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	runCtx, cancel := context.WithCancel(ctx)
	b.ctx = runCtx
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("Browser bridge started", zap.String("path", Path))

	<-runCtx.Done()

	b.logger.Info("Browser bridge stopped")
	return runCtx.Err()
}

// Stop disconnects the shim and closes the events channel
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.running = false
	if b.cancel != nil {
		b.cancel()
	}
	var conn *websocket.Conn
	if b.session != nil {
		conn = b.session.conn
	}
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	// sessions are the only producers
	b.logger.Debug("Waiting for bridge session to finish")
	b.sessionWG.Wait()
	close(b.events)

	b.logger.Info("Browser bridge shutdown complete")
	return nil
}

// Events returns the channel of browser events
func (b *Bridge) Events() <-chan domain.BrowserEvent {
	return b.events
}

// GetTab returns the last known record of a tab
func (b *Bridge) GetTab(_ context.Context, id domain.TabID) (domain.TabRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.tabs[id]
	if !ok {
		return domain.TabRecord{}, fmt.Errorf("tab %d: %w", id, ErrTabNotFound)
	}
	return rec, nil
}

// GetAllWindows returns the last known state of every window, ordered by id
func (b *Bridge) GetAllWindows(_ context.Context) ([]domain.WindowRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	windows := make([]domain.WindowRecord, 0, len(b.windows))
	for _, w := range b.windows {
		windows = append(windows, w)
	}
	slices.SortFunc(windows, func(a, b domain.WindowRecord) int {
		return cmp.Compare(*a.ID, *b.ID)
	})
	return windows, nil
}

// Info returns the shim connection state
func (b *Bridge) Info() Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return Info{}
	}
	return Info{Connected: true, SessionID: b.session.id}
}

// ServeHTTP upgrades the shim's request and reads its frames until it disconnects
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		http.Error(w, "bridge not running", http.StatusServiceUnavailable)
		return
	}
	if b.session != nil {
		b.mu.Unlock()
		b.logger.Warn("Rejecting second shim connection", zap.String("remote", r.RemoteAddr))
		http.Error(w, "extension already connected", http.StatusConflict)
		return
	}
	// reserve the slot before upgrading
	s := &session{id: uuid.NewString()}
	b.session = s
	ctx := b.ctx
	b.sessionWG.Add(1)
	b.mu.Unlock()
	defer b.sessionWG.Done()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Bridge upgrade failed", zap.Error(err))
		b.mu.Lock()
		b.session = nil
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	s.conn = conn
	stopped := b.stopped
	b.mu.Unlock()

	logger := b.logger.With(zap.String("session", s.id))
	logger.Info("Extension connected", zap.String("remote", r.RemoteAddr))

	if !stopped {
		b.readLoop(ctx, logger, s)
	}
	_ = conn.Close()

	b.mu.Lock()
	b.session = nil
	b.tabs = make(map[domain.TabID]domain.TabRecord)
	b.windows = make(map[domain.WindowID]domain.WindowRecord)
	b.mu.Unlock()

	logger.Info("Extension disconnected")
	// the browser is gone, so are its tabs
	b.emit(ctx, domain.SnapshotEvent{})
}

func (b *Bridge) readLoop(ctx context.Context, logger *zap.Logger, s *session) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Bridge read error", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			logger.Warn("Invalid bridge frame", zap.Error(err))
			continue
		}
		if env.Type == string(protocol.TypePing) {
			b.send(logger, s, protocol.TypePong)
			continue
		}

		event, err := decodeFrame(env)
		if err != nil {
			logger.Warn("Dropping bridge frame", zap.String("type", env.Type), zap.Error(err))
			continue
		}
		if !b.emit(ctx, b.record(event)) {
			return
		}
	}
}

// record updates the cache and returns the event to publish
func (b *Bridge) record(event domain.BrowserEvent) domain.BrowserEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev := event.(type) {
	case domain.SnapshotEvent:
		b.tabs = make(map[domain.TabID]domain.TabRecord)
		b.windows = make(map[domain.WindowID]domain.WindowRecord)
		for _, w := range ev.Windows {
			for _, tab := range w.Tabs {
				if tab.ID != nil {
					b.tabs[*tab.ID] = tab
				}
			}
			if w.ID != nil {
				w.Tabs = nil
				b.windows[*w.ID] = w
			}
		}

	case domain.TabCreatedEvent:
		if ev.Tab.ID != nil {
			b.tabs[*ev.Tab.ID] = ev.Tab
		}

	case domain.TabRemovedEvent:
		delete(b.tabs, ev.TabID)

	case tabUpdated:
		rec := *ev.record
		rec.ID = domain.TabIDPtr(ev.TabID)
		b.tabs[ev.TabID] = rec
		return ev.TabUpdatedEvent

	case domain.TabActivatedEvent:
		info := ev.Info
		if info.PreviousTabID != nil {
			if prev, ok := b.tabs[*info.PreviousTabID]; ok {
				prev.Active = false
				b.tabs[*info.PreviousTabID] = prev
			}
		}
		if tab, ok := b.tabs[info.TabID]; ok {
			tab.Active = true
			tab.WindowID = domain.WindowIDPtr(info.WindowID)
			b.tabs[info.TabID] = tab
		}

	case domain.WindowFocusChangedEvent:
		for id, w := range b.windows {
			w.Focused = id == ev.WindowID
			b.windows[id] = w
		}

	case domain.WindowUpdatedEvent:
		w := ev.Window
		w.Tabs = nil
		b.windows[*w.ID] = w

	case domain.WindowRemovedEvent:
		delete(b.windows, ev.WindowID)
	}
	return event
}

// emit publishes event; false once the bridge is stopping
func (b *Bridge) emit(ctx context.Context, event domain.BrowserEvent) bool {
	select {
	case b.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) send(logger *zap.Logger, s *session, typ protocol.MessageType) {
	frame, err := protocol.MarshalEnvelope(string(typ), nil)
	if err != nil {
		logger.Warn("Failed to encode bridge frame", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Debug("Bridge write failed", zap.Error(err))
	}
}
