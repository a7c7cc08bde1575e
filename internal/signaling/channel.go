package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/protocol"
	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("signaling: channel closed")

	// ErrNotConnected is returned by Send while reconnecting.
	ErrNotConnected = errors.New("signaling: not connected")
)

// Config contains signaling channel configuration
type Config struct {
	URL                 string
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	ReconnectAttempts   int // 0 disables reconnection
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	BufferSize          int
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = 30 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}

// ChannelStats represents channel statistics
type ChannelStats struct {
	Connected        bool      `json:"connected"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	DecodeErrors     uint64    `json:"decode_errors"`
	Reconnects       uint64    `json:"reconnects"`
	ConnectedAt      time.Time `json:"connected_at"`
}

// Channel is an open signaling connection.
type Channel struct {
	cfg      Config
	identity string
	token    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	dialer   *websocket.Dialer

	messages  chan protocol.Message
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	statsMu sync.Mutex
	stats   ChannelStats
}

// Dial connects to the signaling server and registers identity. token, if
// set, is sent as a bearer header on the upgrade request.
func Dial(ctx context.Context, cfg Config, identity, token string, logger *slog.Logger, m *metrics.Metrics) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("signaling URL cannot be empty")
	}
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	cfg.applyDefaults()

	c := &Channel{
		cfg:      cfg,
		identity: identity,
		token:    token,
		logger:   logger,
		metrics:  m,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		messages: make(chan protocol.Message, cfg.BufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)

	go c.readLoop(conn)
	return c, nil
}

// connect dials and sends the REGISTER handshake.
func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := make(http.Header)
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	reg := protocol.NewRegister(c.identity)
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(reg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send register: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.metrics.RecordSignalingMessage("out", protocol.TypeRegister)
	c.logger.Info("Signaling channel connected",
		slog.String("url", c.cfg.URL),
		slog.String("identity", c.identity))
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.statsMu.Lock()
	c.stats.Connected = conn != nil
	if conn != nil {
		c.stats.ConnectedAt = time.Now()
	}
	c.statsMu.Unlock()
	c.metrics.SetSignalingConnected(conn != nil)
}

// Messages returns inbound messages in arrival order. The channel is closed
// when the connection ends for good.
func (c *Channel) Messages() <-chan protocol.Message {
	return c.messages
}

// Done is closed when the channel has finished.
func (c *Channel) Done() <-chan struct{} {
	return c.finished
}

// Send writes msg to the server.
func (c *Channel) Send(msg protocol.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}

	c.statsMu.Lock()
	c.stats.MessagesSent++
	c.statsMu.Unlock()
	c.metrics.RecordSignalingMessage("out", msg.Type)
	return nil
}

// Close sends a close frame, drops the connection and waits for the reader
// to finish. Safe to call multiple times.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	<-c.finished
	return nil
}

// GetStats returns current channel statistics
func (c *Channel) GetStats() ChannelStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer close(c.finished)
	defer close(c.messages)
	defer c.setConn(nil)

	for {
		err := c.drain(conn)
		_ = conn.Close()

		if c.closed.Load() {
			return
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.Info("Signaling channel closed by server")
			return
		}

		c.logger.Warn("Signaling connection lost", slog.String("error", err.Error()))
		c.setConn(nil)

		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.setConn(conn)
		// Close may have run while conn was still nil
		if c.closed.Load() {
			_ = conn.Close()
			return
		}
	}
}

// drain reads from conn until it fails and returns the read error.
func (c *Channel) drain(conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			c.statsMu.Lock()
			c.stats.DecodeErrors++
			c.statsMu.Unlock()
			c.logger.Debug("Ignoring undecodable signaling message", slog.String("error", err.Error()))
			continue
		}

		c.statsMu.Lock()
		c.stats.MessagesReceived++
		c.statsMu.Unlock()
		c.metrics.RecordSignalingMessage("in", msg.Type)

		// never drop: ordering matters more than throughput here
		select {
		case c.messages <- msg:
		case <-c.done:
			return ErrClosed
		}
	}
}

// reconnect retries with exponential backoff. It returns nil when attempts
// are exhausted or the channel is closed.
func (c *Channel) reconnect() *websocket.Conn {
	backoff := c.cfg.ReconnectBackoff
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-time.After(backoff):
		case <-c.done:
			return nil
		}

		c.metrics.RecordSignalingReconnect()
		c.logger.Info("Attempting signaling reconnection",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.ReconnectAttempts),
			slog.Duration("backoff", backoff))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.connect(ctx)
		cancel()
		if err == nil {
			c.statsMu.Lock()
			c.stats.Reconnects++
			c.statsMu.Unlock()
			if c.closed.Load() {
				_ = conn.Close()
				return nil
			}
			return conn
		}

		c.logger.Warn("Signaling reconnection failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		backoff *= 2
		if backoff > c.cfg.MaxReconnectBackoff {
			backoff = c.cfg.MaxReconnectBackoff
		}
	}

	if c.cfg.ReconnectAttempts > 0 {
		c.logger.Error("Signaling reconnection attempts exhausted",
			slog.Int("attempts", c.cfg.ReconnectAttempts))
	}
	return nil
}
