// Package natscore implements the bridge transport contracts directly on
// core NATS. Request/reply is native here, so calls need no correlation
// link: Invoke maps to a NATS request, Register answers on the subscription's
// reply subject, and events ride plain publishes.
package natscore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/wireflow/transport"
)

// TransportName identifies this transport in capability lookups.
const TransportName = "nats-core"

const (
	// DefaultConnectionName is reported to the NATS server when Options.Name
	// is empty.
	DefaultConnectionName = "wireflow"

	// DefaultRequestTimeout bounds an Invoke whose context carries no
	// deadline of its own.
	DefaultRequestTimeout = 30 * time.Second
)

var (
	// ErrConnRequired is returned by Wrap when no connection is given.
	ErrConnRequired = errors.New("natscore: connection is required")

	// ErrClosed is returned for operations on a closed Conn.
	ErrClosed = errors.New("natscore: closed")

	// ErrAlreadyRegistered is returned when a channel already has a listener.
	ErrAlreadyRegistered = errors.New("natscore: channel already registered")

	// ErrNotRegistered is returned when unregistering an unknown channel.
	ErrNotRegistered = errors.New("natscore: channel not registered")

	// ErrListenerRequired is returned when registering a nil listener.
	ErrListenerRequired = errors.New("natscore: listener is required")
)

// ConnectFactory allows overriding the NATS connection creation for testing.
var ConnectFactory = func(url string, opts []nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// Options tunes a Conn. The zero value is usable.
type Options struct {
	// Name identifies the connection on the NATS server.
	Name string

	// RequestTimeout overrides DefaultRequestTimeout.
	RequestTimeout time.Duration

	// NatsOptions are appended to the connection options built by Connect.
	NatsOptions []nats.Option

	// Logger receives transport-level failures. Defaults to the nop logger.
	Logger watermill.LoggerAdapter
}

// Conn adapts a NATS connection to transport.Registrar, transport.Invoker,
// transport.Target and transport.EventSource.
type Conn struct {
	nc       *nats.Conn
	logger   watermill.LoggerAdapter
	timeout  time.Duration
	ownsConn bool

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
	done   chan struct{}
}

// Connect dials a NATS server and wraps the connection. An empty URL falls
// back to nats.DefaultURL. The returned Conn owns the connection and closes
// it on Close.
func Connect(url string, opts Options) (*Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	name := opts.Name
	if name == "" {
		name = DefaultConnectionName
	}
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Info("natscore: disconnected", watermill.LogFields{"error": fmt.Sprint(err)})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("natscore: reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
	natsOpts = append(natsOpts, opts.NatsOptions...)

	nc, err := ConnectFactory(url, natsOpts)
	if err != nil {
		return nil, fmt.Errorf("natscore: connect to %q: %w", url, err)
	}

	conn, err := Wrap(nc, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	conn.ownsConn = true
	return conn, nil
}

// Wrap adapts an existing NATS connection. The caller keeps ownership;
// Close only drops this Conn's subscriptions.
func Wrap(nc *nats.Conn, opts Options) (*Conn, error) {
	if nc == nil {
		return nil, ErrConnRequired
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Conn{
		nc:      nc,
		logger:  logger,
		timeout: timeout,
		subs:    make(map[string]*nats.Subscription),
		done:    make(chan struct{}),
	}, nil
}

// Register attaches a listener to a channel. Calls on one channel are served
// concurrently. A listener error is logged and the request goes unanswered,
// so callers must bound their waits.
func (c *Conn) Register(channel string, listener transport.Listener) error {
	if listener == nil {
		return fmt.Errorf("%w: channel %q", ErrListenerRequired, channel)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, exists := c.subs[channel]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, channel)
	}

	sub, err := c.nc.Subscribe(channel, func(msg *nats.Msg) {
		go c.answer(channel, msg, listener)
	})
	if err != nil {
		return fmt.Errorf("natscore: subscribe to channel %q: %w", channel, err)
	}

	c.subs[channel] = sub
	return nil
}

// Unregister detaches the listener from a channel.
func (c *Conn) Unregister(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, channel)
	}
	delete(c.subs, channel)

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("natscore: unsubscribe from channel %q: %w", channel, err)
	}
	return nil
}

func (c *Conn) answer(channel string, msg *nats.Msg, listener transport.Listener) {
	reply, err := listener(context.Background(), msg.Data)
	if err != nil {
		c.logger.Error("natscore: listener failed", err, watermill.LogFields{"channel": channel})
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		c.logger.Error("natscore: respond failed", err, watermill.LogFields{"channel": channel})
	}
}

// Invoke issues a NATS request and returns the reply payload. Without a
// context deadline the configured request timeout applies.
func (c *Conn) Invoke(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, channel, payload)
	if err != nil {
		return nil, fmt.Errorf("natscore: request on channel %q: %w", channel, err)
	}
	return msg.Data, nil
}

// Send publishes an event payload to a channel. No reply is expected.
func (c *Conn) Send(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := c.nc.Publish(channel, payload); err != nil {
		return fmt.Errorf("natscore: publish event to channel %q: %w", channel, err)
	}
	return nil
}

// Alive reports whether sends can still succeed. The connection buffers
// publishes while reconnecting, so only a closed connection counts as dead.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.nc.IsClosed()
}

// Events subscribes to a channel and forwards raw payloads until the context
// is cancelled or the Conn closes.
func (c *Conn) Events(ctx context.Context, channel string) (<-chan []byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	inbox := make(chan *nats.Msg, 64)
	sub, err := c.nc.ChanSubscribe(channel, inbox)
	if err != nil {
		return nil, fmt.Errorf("natscore: subscribe to channel %q: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				c.logger.Debug("natscore: unsubscribe failed", watermill.LogFields{
					"channel": channel,
					"error":   err.Error(),
				})
			}
		}()

		for {
			select {
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

// Close drops all registrations. A Conn created by Connect also closes the
// underlying NATS connection; a wrapped one leaves it to its owner. Closing
// twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)

	var firstErr error
	for channel, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil && !errors.Is(err, nats.ErrConnectionClosed) {
			firstErr = fmt.Errorf("natscore: unsubscribe from channel %q: %w", channel, err)
		}
		delete(c.subs, channel)
	}
	c.mu.Unlock()

	if c.ownsConn {
		c.nc.Close()
	}
	return firstErr
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCoreCapabilities
}
