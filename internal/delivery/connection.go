// Package delivery sends the selected session to the display server.
package delivery

import (
	"context"
	"sync"

	"github.com/genricoloni/tabcast/internal/channel"
	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/genricoloni/tabcast/internal/tabstate"
	"go.uber.org/zap"
)

// Transport is the part of channel.Channel used by Connection
type Transport interface {
	Connect(ctx context.Context) error
	TrySend(typ protocol.MessageType, data any)
	OnConnect(fn func())
	State() channel.State
	URL() string
	Close() error
}

// TransportFactory creates an unconnected transport for url
type TransportFactory func(url string) Transport

// Connection owns the channel to the display server and implements the selector's sink.
// The last Active message is replayed whenever the channel (re)connects.
type Connection struct {
	logger    *zap.Logger
	source    domain.SettingsSource
	transport TransportFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	settings    domain.ConnectionSettings
	current     Transport
	last        any
	unsubscribe func()
}

// NewConnection creates a connection that follows the connection settings of source.
// Nothing is dialled before Start.
func NewConnection(logger *zap.Logger, source domain.SettingsSource) *Connection {
	return NewConnectionWithTransport(logger, source, func(url string) Transport {
		return channel.New(logger, url)
	})
}

// NewConnectionWithTransport is NewConnection with a custom transport factory
func NewConnectionWithTransport(logger *zap.Logger, source domain.SettingsSource, factory TransportFactory) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		logger:    logger,
		source:    source,
		transport: factory,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the settings, which opens the first channel
func (c *Connection) Start() {
	unsubscribe := c.source.Subscribe(c.handleSettings)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Close stops following settings and closes the channel
func (c *Connection) Close() error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	current := c.current
	c.current = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancel()
	c.wg.Wait()

	if current != nil {
		return current.Close()
	}
	return nil
}

// Report sends tab as Active, or Inactive when tab is nil
func (c *Connection) Report(tab *tabstate.Tab) {
	c.mu.Lock()
	current := c.current
	if tab == nil {
		c.last = nil
	} else if c.settings.Legacy {
		c.last = tab.LegacyEvent()
	} else {
		c.last = tab.PlayInfo()
	}
	last := c.last
	c.mu.Unlock()

	if current == nil {
		return
	}
	if last == nil {
		current.TrySend(protocol.TypeInactive, nil)
		return
	}
	current.TrySend(protocol.TypeActive, last)
}

// State returns the state of the current channel
func (c *Connection) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return channel.Disconnected
	}
	return c.current.State()
}

// URL returns the display server URL, empty before Start
func (c *Connection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.URL()
}

func (c *Connection) handleSettings(s domain.Settings) {
	next := s.Connection

	c.mu.Lock()
	if c.current != nil && next == c.settings {
		c.mu.Unlock()
		return
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}

	previous := c.current
	if previous != nil && next.Legacy != c.settings.Legacy {
		// the remembered body has the other format
		c.last = nil
	}
	c.settings = next

	transport := c.transport(next.URL())
	transport.OnConnect(func() { c.replay(transport) })
	c.current = transport
	c.wg.Add(1)
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.Debug("Error closing previous channel", zap.Error(err))
		}
	}

	c.logger.Info("Display connection configured",
		zap.String("url", transport.URL()),
		zap.Bool("legacy", next.Legacy))

	go func() {
		defer c.wg.Done()
		// failures are retried by the channel itself
		if err := transport.Connect(c.ctx); err != nil {
			c.logger.Warn("Initial connection failed", zap.Error(err))
		}
	}()
}

func (c *Connection) replay(transport Transport) {
	c.mu.Lock()
	if c.current != transport {
		c.mu.Unlock()
		return
	}
	last := c.last
	c.mu.Unlock()

	if last != nil {
		c.logger.Debug("Replaying last session")
		transport.TrySend(protocol.TypeActive, last)
	}
}
