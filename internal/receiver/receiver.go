// Package receiver is a minimal display-side endpoint for the delivery protocol.
package receiver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/genricoloni/tabcast/internal/tabstate"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// CurrentPath serves clients speaking the current protocol
	CurrentPath = "/api/ws/extension"
	// LegacyPath serves clients of the legacy display server
	LegacyPath = "/"

	defaultPingInterval = 30 * time.Second
	defaultIdleTimeout  = 40 * time.Second
	writeTimeout        = 5 * time.Second
)

// Update is a session change announced by one client.
// Disconnected marks the last, inactive update of a client.
type Update struct {
	ClientID     string
	Active       bool
	Disconnected bool
	PlayInfo     *protocol.PlayInfo
	Legacy       *protocol.LegacyEvent
}

// Display returns the title lines an overlay would render for the update
func (u Update) Display() tabstate.TitleData {
	var data tabstate.TitleData
	switch {
	case u.PlayInfo != nil:
		data = tabstate.TitleData{Title: u.PlayInfo.Title, Subtitle: u.PlayInfo.Artist}
	case u.Legacy != nil:
		data = tabstate.TitleData{Title: u.Legacy.Metadata.Title, Subtitle: u.Legacy.Metadata.Artist}
	default:
		return data
	}
	return tabstate.CleanupTitle(data)
}

// Info returns the session in the current format with the displayed title
// lines, nil when the client is inactive
func (u Update) Info() *protocol.PlayInfo {
	if !u.Active {
		return nil
	}
	title := u.Display()

	var info protocol.PlayInfo
	switch {
	case u.PlayInfo != nil:
		info = *u.PlayInfo
	case u.Legacy != nil:
		info.Source = "legacy"
		if art := u.Legacy.Metadata.Artwork; art != "" {
			info.Image = protocol.ExternalImage(art)
		}
		// legacy positions are in seconds
		if pos := u.Legacy.Position; pos != nil {
			info.Timeline = &protocol.TimelineInfo{
				TS:         pos.Timestamp,
				Rate:       pos.Rate,
				ProgressMs: int64(pos.Position * 1000),
				DurationMs: int64(pos.Duration * 1000),
			}
		}
	default:
		return nil
	}
	info.Title, info.Artist = title.Title, title.Subtitle
	return &info
}

// Option configures a Receiver
type Option func(*Receiver)

// WithPingInterval sets how often clients are pinged
func WithPingInterval(d time.Duration) Option {
	return func(r *Receiver) { r.pingInterval = d }
}

// WithIdleTimeout sets how long a silent client is kept
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Receiver) { r.idleTimeout = d }
}

// Receiver accepts extension connections and reports their sessions
type Receiver struct {
	logger   *zap.Logger
	onUpdate func(Update)
	upgrader websocket.Upgrader

	pingInterval time.Duration
	idleTimeout  time.Duration

	mu      sync.Mutex
	closed  bool
	clients map[string]*websocket.Conn
	wg      sync.WaitGroup
}

// New creates a receiver calling onUpdate for every Active and Inactive frame.
// A client that disconnects is reported as inactive.
func New(logger *zap.Logger, onUpdate func(Update), opts ...Option) *Receiver {
	r := &Receiver{
		logger:   logger,
		onUpdate: onUpdate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
		idleTimeout:  defaultIdleTimeout,
		clients:      make(map[string]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Routes mounts the receiver on both protocol paths
func (r *Receiver) Routes() http.Handler {
	router := chi.NewRouter()
	router.Get(CurrentPath, r.ServeHTTP)
	router.Get(LegacyPath, r.ServeHTTP)
	return router
}

// Clients returns the number of connected clients
func (r *Receiver) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ServeHTTP upgrades one client and serves it until it disconnects
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		http.Error(w, "receiver closed", http.StatusServiceUnavailable)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("Receiver upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	logger := r.logger.With(zap.String("client", id), zap.String("path", req.URL.Path))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.clients[id] = conn
	r.mu.Unlock()

	logger.Info("Client connected", zap.String("remote", req.RemoteAddr))

	ctx, cancel := context.WithCancel(req.Context())
	var writeMu sync.Mutex
	go r.pingLoop(ctx, logger, conn, &writeMu)

	r.readLoop(logger, id, conn, &writeMu)
	cancel()
	_ = conn.Close()

	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()

	logger.Info("Client disconnected")
	r.notify(logger, Update{ClientID: id, Disconnected: true})
}

func (r *Receiver) readLoop(logger *zap.Logger, id string, conn *websocket.Conn, writeMu *sync.Mutex) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.idleTimeout))
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Client read ended", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("Dropping client frame", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case protocol.Ping:
			r.write(logger, conn, writeMu, protocol.Pong{})
		case protocol.Active:
			r.notify(logger, Update{ClientID: id, Active: true, PlayInfo: m.PlayInfo, Legacy: m.Legacy})
		case protocol.Inactive:
			r.notify(logger, Update{ClientID: id})
		}
	}
}

func (r *Receiver) pingLoop(ctx context.Context, logger *zap.Logger, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.write(logger, conn, writeMu, protocol.Ping{})
		}
	}
}

func (r *Receiver) write(logger *zap.Logger, conn *websocket.Conn, writeMu *sync.Mutex, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		logger.Warn("Failed to encode frame", zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Debug("Client write failed", zap.Error(err))
	}
}

func (r *Receiver) notify(logger *zap.Logger, update Update) {
	if r.onUpdate == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Update callback panicked", zap.Any("panic", p))
		}
	}()
	r.onUpdate(update)
}

// Close disconnects every client and waits for their handlers
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*websocket.Conn, 0, len(r.clients))
	for _, conn := range r.clients {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	r.wg.Wait()
	return nil
}
