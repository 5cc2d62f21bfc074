// Package channel implements a websocket client that keeps reconnecting until closed.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 2 * time.Second
	writeTimeout          = 5 * time.Second

	initialDelay = time.Second
	maxDelay     = 120 * time.Second
)

var (
	// ErrConnectTimeout is returned when the server does not accept within the connect timeout
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrClosed is returned by Connect after Close
	ErrClosed = errors.New("channel closed")
)

// State of the underlying connection
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Dialer opens websocket connections; *websocket.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Timer is a pending reconnect
type Timer interface {
	Stop() bool
}

// Clock schedules reconnects
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Channel
type Option func(*Channel)

// WithDialer replaces the default websocket dialer
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithClock replaces the clock used for reconnect delays
func WithClock(clock Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// WithConnectTimeout overrides the 2s connect timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Channel) { c.connectTimeout = d }
}

// Channel is a duplex {type, data} websocket to a single URL.
// Lost connections are re-established with exponential backoff
// (1s, then min(2d+3s, 120s), reset after a successful open) until Close.
type Channel struct {
	logger         *zap.Logger
	url            string
	dialer         Dialer
	clock          Clock
	connectTimeout time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	closed      bool
	nextDelay   time.Duration
	reconnect   Timer
	subscribers map[int]func(protocol.Envelope)
	nextSubID   int
	onConnect   []func()

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a disconnected channel for url
func New(logger *zap.Logger, url string, opts ...Option) *Channel {
	c := &Channel{
		logger:         logger.With(zap.String("url", url)),
		url:            url,
		dialer:         websocket.DefaultDialer,
		clock:          realClock{},
		connectTimeout: defaultConnectTimeout,
		nextDelay:      initialDelay,
		subscribers:    make(map[int]func(protocol.Envelope)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the server URL
func (c *Channel) URL() string {
	return c.url
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnect registers fn to run after every successful open
func (c *Channel) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Subscribe registers fn for every inbound frame except Ping.
// fn runs on the reader goroutine and must not call Close.
func (c *Channel) Subscribe(fn func(protocol.Envelope)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
		})
	}
}

// Connect opens the socket. A failed attempt schedules a reconnect
// and returns the error; ErrConnectTimeout if the server did not answer in time.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	c.logger.Info("Connecting")

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrConnectTimeout
		}
		c.mu.Lock()
		if !c.closed {
			c.state = Disconnected
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("connect %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		// lost a race with a concurrent Connect
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = Connected
	c.nextDelay = initialDelay
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	hooks := append([]func(){}, c.onConnect...)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Connected")
	go c.readLoop(conn)

	for _, hook := range hooks {
		c.safeCall(hook)
	}
	return nil
}

// TrySend writes a frame if the socket is open. Failures are only logged.
func (c *Channel) TrySend(typ protocol.MessageType, data any) {
	frame, err := protocol.MarshalEnvelope(string(typ), data)
	if err != nil {
		c.logger.Warn("Failed to encode message", zap.String("type", string(typ)), zap.Error(err))
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Debug("Not connected, dropping message", zap.String("type", string(typ)))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn("Error sending websocket message", zap.String("type", string(typ)), zap.Error(err))
	}
}

// Close shuts the socket and cancels reconnection. Calling it again is a no-op.
// It must not be called from a subscriber.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Closing
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()

	c.logger.Info("Channel closed")
	return err
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if typ != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", zap.Int("frameType", typ))
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("Invalid message", zap.Error(err))
			continue
		}
		if env.Type == string(protocol.TypePing) {
			c.TrySend(protocol.TypePong, nil)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// closed intentionally
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Info("Connection lost", zap.Error(err))
	_ = conn.Close()
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending
func (c *Channel) scheduleReconnectLocked() {
	if c.closed || c.reconnect != nil {
		return
	}

	delay := c.nextDelay
	c.logger.Info("Reconnecting later", zap.Duration("delay", delay))
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.nextDelay = min(c.nextDelay*2+3*time.Second, maxDelay)
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Warn("Reconnect failed", zap.Error(err))
		}
	})
}

func (c *Channel) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	subscribers := make([]func(protocol.Envelope), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.mu.Unlock()

	for _, fn := range subscribers {
		c.safeCall(func() { fn(env) })
	}
}

func (c *Channel) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Channel callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
