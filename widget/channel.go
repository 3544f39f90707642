package widget

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"assist-chat/errors"
	"assist-chat/wire"
)

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 10 * time.Second
	dialTimeout = 5 * time.Second
)

// Channel is the duplex event transport the synchronizer drives. It hides
// connection management: once started it keeps redialing with capped
// exponential backoff until closed, reporting connect and disconnect edges
// through the registered callbacks.
type Channel interface {
	// Start begins connection management. Callbacks must be registered first.
	Start()
	// Close tears the channel down permanently.
	Close() error
	// Emit sends one event with its payload. It fails without buffering when
	// the channel is not currently connected.
	Emit(event string, payload any) error
	// OnEnvelope registers the handler for inbound events.
	OnEnvelope(fn func(wire.Envelope))
	// OnConnect registers the handler invoked on every successful (re)connection.
	OnConnect(fn func())
	// OnDisconnect registers the handler invoked on every connection loss.
	OnDisconnect(fn func(error))
}

// SocketChannel is the websocket implementation of Channel.
type SocketChannel struct {
	log *slog.Logger
	url string

	onEnvelope   func(wire.Envelope)
	onConnect    func()
	onDisconnect func(error)

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewSocketChannel(log *slog.Logger, url string) *SocketChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketChannel{
		log:          log,
		url:          url,
		onEnvelope:   func(wire.Envelope) {},
		onConnect:    func() {},
		onDisconnect: func(error) {},
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *SocketChannel) OnEnvelope(fn func(wire.Envelope)) { c.onEnvelope = fn }
func (c *SocketChannel) OnConnect(fn func())               { c.onConnect = fn }
func (c *SocketChannel) OnDisconnect(fn func(error))       { c.onDisconnect = fn }

func (c *SocketChannel) Start() {
	go c.run()
}

func (c *SocketChannel) run() {
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		conn, err := c.dial()
		if err != nil {
			delay := retryDelay(attempt)
			attempt++
			c.log.Debug("dial failed, retrying", slog.String("url", c.url),
				slog.Duration("delay", delay), slog.Any("error", err))
			select {
			case <-time.After(delay):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		attempt = 0
		c.setConn(conn)
		c.onConnect()

		readErr := c.readLoop(conn)
		c.setConn(nil)
		_ = conn.Close()
		if c.ctx.Err() != nil {
			return
		}
		c.onDisconnect(readErr)
	}
}

func (c *SocketChannel) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	return conn, err
}

func (c *SocketChannel) readLoop(conn *websocket.Conn) error {
	for {
		var envelope wire.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return err
		}
		c.onEnvelope(envelope)
	}
}

func (c *SocketChannel) Emit(event string, payload any) error {
	envelope, err := wire.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.ErrChannelDown
	}
	return c.conn.WriteJSON(envelope)
}

func (c *SocketChannel) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	})
	return nil
}

func (c *SocketChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// retryDelay doubles from the base up to the cap, with a small random
// jitter so reconnecting clients do not stampede the server together.
func retryDelay(attempt int) time.Duration {
	delay := backoffBase << attempt
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay - delay/8 + jitter
}
