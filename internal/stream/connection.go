package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"perp-edge/internal/metrics"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const subscribeTimeout = 5 * time.Second

// Transport is one open duplex stream. Read blocks until a message arrives,
// the context is cancelled or the stream fails.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer func(ctx context.Context, url string) (Transport, error)

type Options struct {
	Name           string
	URL            string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	PingMessage    any
	Subscribe      any
	// DeferConnected leaves connectivity reporting to the message handler
	// instead of signalling connected on transport open.
	DeferConnected bool
	Dialer         Dialer
	OnStatus       func(connected bool)
	OnMessage      func(data []byte)
	Reconnects     metrics.Counter
}

type timer interface {
	Stop() bool
}

// Connection keeps one logical subscription alive. Every callback (dial
// result, message, transport failure, retry timer) runs under mu and checks
// the cancellation flag and dial generation before touching anything, so once
// Close returns nothing from this connection reaches OnStatus or OnMessage.
// OnStatus and OnMessage must not call back into the same Connection.
type Connection struct {
	opts      Options
	log       *zap.Logger
	afterFunc func(time.Duration, func()) timer

	mu        sync.Mutex
	state     State
	cancelled bool
	gen       uint64
	transport Transport
	stopIO    context.CancelFunc
	retry     timer
}

func New(opts Options, log *zap.Logger) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer
	}
	if opts.Reconnects == nil {
		opts.Reconnects = metrics.NoopCounter()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		opts:  opts,
		log:   log.With(zap.String("feed", opts.Name)),
		state: StateDisconnected,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

func (c *Connection) Name() string {
	return c.opts.Name
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Connection) RetryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry != nil
}

// Open starts connecting. It is a no-op unless the connection is
// disconnected with no retry pending and has not been closed.
func (c *Connection) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.state != StateDisconnected || c.retry != nil {
		return
	}
	c.startLocked()
}

// Close cancels the connection. It is idempotent and never reopens.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.state = nextState(c.state, EventClose)
	c.teardownLocked()
	c.state = nextState(c.state, EventClosed)
	c.log.Debug("stream closed")
}

func (c *Connection) startLocked() {
	c.state = nextState(c.state, EventOpen)
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.stopIO = cancel
	go c.dial(ctx, gen)
}

func (c *Connection) dial(ctx context.Context, gen uint64) {
	transport, err := c.opts.Dialer(ctx, c.opts.URL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staleLocked(gen) {
		if transport != nil {
			_ = transport.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("stream dial failed", zap.Error(err))
		c.failLocked()
		return
	}
	if c.opts.Subscribe != nil {
		subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
		err := writeJSON(subCtx, transport, c.opts.Subscribe)
		cancel()
		if err != nil {
			_ = transport.Close()
			c.log.Warn("stream subscribe failed", zap.Error(err))
			c.failLocked()
			return
		}
	}
	c.transport = transport
	c.state = nextState(c.state, EventTransportOpen)
	c.log.Info("stream connected", zap.String("url", c.opts.URL))
	if !c.opts.DeferConnected {
		c.emitStatusLocked(true)
	}
	go c.readLoop(ctx, gen, transport)
	if c.opts.PingInterval > 0 && c.opts.PingMessage != nil {
		go c.pingLoop(ctx, gen, transport)
	}
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, transport Transport) {
	for {
		data, err := transport.Read(ctx)
		if err != nil {
			c.onTransportDown(gen, err)
			return
		}
		c.onMessage(gen, data)
	}
}

func (c *Connection) pingLoop(ctx context.Context, gen uint64, transport Transport) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, transport, c.opts.PingMessage); err != nil {
				c.onTransportDown(gen, err)
				return
			}
		}
	}
}

func (c *Connection) onMessage(gen uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staleLocked(gen) || c.state != StateConnected {
		return
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(data)
	}
}

func (c *Connection) onTransportDown(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staleLocked(gen) || c.state == StateDisconnected {
		return
	}
	c.logTransportError(err)
	c.failLocked()
}

func (c *Connection) onRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = nil
	if c.cancelled || c.state != StateDisconnected {
		return
	}
	c.log.Debug("stream reconnecting")
	c.startLocked()
}

func (c *Connection) failLocked() {
	c.teardownLocked()
	c.state = nextState(c.state, EventFailure)
	c.emitStatusLocked(false)
	c.scheduleRetryLocked()
}

func (c *Connection) scheduleRetryLocked() {
	if c.cancelled || c.retry != nil {
		return
	}
	c.opts.Reconnects.Inc()
	c.retry = c.afterFunc(c.opts.ReconnectDelay, c.onRetry)
}

func (c *Connection) teardownLocked() {
	if c.stopIO != nil {
		c.stopIO()
		c.stopIO = nil
	}
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
}

func (c *Connection) staleLocked(gen uint64) bool {
	return c.cancelled || gen != c.gen
}

func (c *Connection) emitStatusLocked(connected bool) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(connected)
	}
}

func (c *Connection) logTransportError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("stream closed by peer", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	c.log.Warn("stream read loop ended", zap.Error(err))
}

func writeJSON(ctx context.Context, transport Transport, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return transport.Write(ctx, data)
}
