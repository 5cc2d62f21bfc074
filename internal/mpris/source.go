//go:build linux

package mpris

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

type player struct {
	name   string
	paused bool
}

// Source follows MPRIS players on the session bus
type Source struct {
	logger *zap.Logger
	opts   options
	events chan Session
	dial   func() (DBusClient, error)
	now    func() time.Time

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient
	lastSlowWarning time.Time
	wg              sync.WaitGroup
	players         map[string]*player // unique bus name (":1.45") to player
}

// NewSource creates a source for the session bus
func NewSource(logger *zap.Logger, opts ...Option) *Source {
	s := &Source{
		logger:  logger,
		events:  make(chan Session, 10),
		dial:    func() (DBusClient, error) { return NewStdDBusClient() },
		now:     time.Now,
		players: make(map[string]*player),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Start connects to the session bus and reports players until ctx is done
// or Stop is called
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	sourceCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	conn, err := s.dial()
	if err != nil {
		s.logger.Error("Failed to connect to session bus", zap.Error(err))
		s.abort(nil)
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		s.abort(conn)
		return fmt.Errorf("failed to add match signal: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		s.logger.Warn("Players started later will be missed", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	s.mu.Lock()
	if !s.running {
		// stopped while connecting
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			s.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		return sourceCtx.Err()
	}
	s.conn = conn
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(sourceCtx, signals)

	s.logger.Info("MPRIS source started", zap.Strings("players", s.opts.players))
	<-sourceCtx.Done()
	s.logger.Info("MPRIS source stopped")
	return sourceCtx.Err()
}

// Stop ends Start, waits for the signal loop and closes Events
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	close(s.events)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		s.conn = nil
	}
	return nil
}

// Events returns the player sessions. It is closed by Stop.
func (s *Source) Events() <-chan Session {
	return s.events
}

func (s *Source) abort(conn DBusClient) {
	if conn != nil {
		_ = conn.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Source) run(ctx context.Context, signals <-chan *dbus.Signal) {
	defer s.wg.Done()

	if err := s.detectPlayers(ctx); err != nil {
		s.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				s.handleNameOwnerChanged(ctx, sig)
			} else {
				s.handlePropertiesChanged(ctx, sig)
			}
		}
	}
}

// detectPlayers adds the players already on the bus
func (s *Source) detectPlayers(ctx context.Context) error {
	names, err := s.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	count := 0
	for _, name := range names {
		if !s.opts.wants(name) {
			continue
		}
		unique, err := s.conn.GetNameOwner(name)
		if err != nil {
			s.logger.Warn("Failed to resolve player", zap.String("player", name), zap.Error(err))
			continue
		}
		count++
		s.addPlayer(unique, name)
		if err := s.fetchPlayer(ctx, unique); err != nil {
			s.logger.Warn("Failed to fetch initial metadata", zap.String("player", name), zap.Error(err))
		}
	}

	s.logger.Info("Player detection complete", zap.Int("count", count))
	return nil
}

func (s *Source) addPlayer(unique, name string) {
	s.mu.Lock()
	s.players[unique] = &player{name: name}
	s.mu.Unlock()
	s.logger.Info("Following MPRIS player", zap.String("player", name), zap.String("unique", unique))
}

// fetchPlayer reads the full state of a player and reports it
func (s *Source) fetchPlayer(ctx context.Context, unique string) error {
	variant, err := s.conn.GetProperty(unique, objectPath, playerIface+".Metadata")
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}
	// players without a track may answer with something else
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		s.logger.Debug("Metadata is not a map, skipping", zap.String("unique", unique))
		return nil
	}

	statusVariant, err := s.conn.GetProperty(unique, objectPath, playerIface+".PlaybackStatus")
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		return fmt.Errorf("invalid playback status format")
	}

	s.report(ctx, unique, metadata, status)
	return nil
}

func (s *Source) handleNameOwnerChanged(ctx context.Context, sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || !s.opts.wants(name) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case oldOwner == "" && newOwner != "":
		s.addPlayer(newOwner, name)
		if err := s.fetchPlayer(ctx, newOwner); err != nil {
			s.logger.Warn("Failed to fetch metadata from new player", zap.String("player", name), zap.Error(err))
		}
	case oldOwner != "" && newOwner == "":
		s.mu.Lock()
		_, known := s.players[oldOwner]
		delete(s.players, oldOwner)
		s.mu.Unlock()
		if known {
			s.logger.Info("MPRIS player removed", zap.String("player", name))
			s.send(ctx, Session{Player: name, Removed: true})
		}
	case oldOwner != "" && newOwner != "":
		s.mu.Lock()
		if p, ok := s.players[oldOwner]; ok {
			delete(s.players, oldOwner)
			s.players[newOwner] = p
		}
		s.mu.Unlock()
		s.logger.Debug("MPRIS player changed owner",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handlePropertiesChanged reports a player whose track or status changed.
// The body is (interface, changed properties, invalidated properties).
func (s *Source) handlePropertiesChanged(ctx context.Context, sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
		return
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != playerIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	s.mu.RLock()
	_, known := s.players[sig.Sender]
	s.mu.RUnlock()
	if !known {
		return
	}

	metadataVariant, hasMetadata := changed["Metadata"]
	statusVariant, hasStatus := changed["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	var metadata map[string]dbus.Variant
	if hasMetadata {
		if metadata, ok = metadataVariant.Value().(map[string]dbus.Variant); !ok {
			s.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	} else if v, err := s.conn.GetProperty(sig.Sender, objectPath, playerIface+".Metadata"); err == nil {
		metadata, _ = v.Value().(map[string]dbus.Variant)
	}

	var status string
	if hasStatus {
		if status, ok = statusVariant.Value().(string); !ok {
			s.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	} else if v, err := s.conn.GetProperty(sig.Sender, objectPath, playerIface+".PlaybackStatus"); err == nil {
		status, _ = v.Value().(string)
	}

	s.report(ctx, sig.Sender, metadata, status)
}

// report sends the state of a player. Repeated non-playing states collapse
// into one.
func (s *Source) report(ctx context.Context, unique string, metadata map[string]dbus.Variant, status string) {
	playing := status == "Playing"

	s.mu.Lock()
	p, ok := s.players[unique]
	if !ok || (!playing && p.paused) {
		s.mu.Unlock()
		return
	}
	p.paused = !playing
	name := p.name
	s.mu.Unlock()

	session := Session{Player: name}
	if playing {
		session.Info = s.playInfo(unique, name, metadata)
	}
	s.send(ctx, session)
}

func (s *Source) playInfo(unique, name string, metadata map[string]dbus.Variant) *protocol.PlayInfo {
	info := &protocol.PlayInfo{
		Title:  stringValue(metadata["xesam:title"]),
		Artist: s.artistValue(metadata["xesam:artist"]),
		Source: sourcePrefix + strings.TrimPrefix(name, namePrefix),
	}
	if art := stringValue(metadata["mpris:artUrl"]); art != "" {
		info.Image = protocol.ExternalImage(art)
	}
	if album := stringValue(metadata["xesam:album"]); album != "" {
		info.Album = &protocol.AlbumInfo{Title: album}
	}
	if n, ok := intValue(metadata["xesam:trackNumber"]); ok && n > 0 {
		track := int(n)
		info.TrackNumber = &track
	}

	// lengths and positions are in microseconds
	timeline := &protocol.TimelineInfo{TS: float64(s.now().UnixMilli()), Rate: 1}
	if length, ok := intValue(metadata["mpris:length"]); ok && length > 0 {
		timeline.DurationMs = length / 1000
	}
	if v, err := s.conn.GetProperty(unique, objectPath, playerIface+".Position"); err == nil {
		if pos, ok := intValue(v); ok && pos > 0 {
			timeline.ProgressMs = pos / 1000
		}
	}
	if v, err := s.conn.GetProperty(unique, objectPath, playerIface+".Rate"); err == nil {
		if rate, ok := v.Value().(float64); ok {
			timeline.Rate = rate
		}
	}
	info.Timeline = timeline
	return info
}

func (s *Source) artistValue(v dbus.Variant) string {
	switch artists := v.Value().(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(artists, ", ")
	case string:
		return artists
	default:
		// some non-compliant players use other types
		s.logger.Debug("Unexpected artist type in metadata", zap.String("type", fmt.Sprintf("%T", artists)))
		return ""
	}
}

// send blocks until the consumer takes the session, warning at most every
// five seconds while it lags
func (s *Source) send(ctx context.Context, session Session) {
	select {
	case s.events <- session:
		return
	default:
	}

	s.mu.Lock()
	if now := time.Now(); now.Sub(s.lastSlowWarning) >= 5*time.Second {
		s.logger.Warn("Session consumer is slow", zap.String("player", session.Player))
		s.lastSlowWarning = now
	}
	s.mu.Unlock()

	select {
	case s.events <- session:
	case <-ctx.Done():
	}
}

func stringValue(v dbus.Variant) string {
	str, _ := v.Value().(string)
	return str
}

func intValue(v dbus.Variant) (int64, bool) {
	switch n := v.Value().(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}
