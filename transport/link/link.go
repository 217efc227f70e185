// Package link adapts a publish/subscribe transport into the call and event
// contracts of the bridge. Transports without native request/reply (kafka,
// rabbitmq, gochannel, ...) gain calls through reply-topic correlation: every
// request carries a correlation ID and a reply topic, and the serving side
// publishes its answer back to that topic with the same ID.
//
// One link per process is enough; it serves as Registrar, Invoker, Target and
// EventSource at the same time. Transports that do speak request/reply
// natively (see transport/natscore) implement the contracts themselves and
// need no link. Use Capabilities.RequiresCorrelation to pick.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/wireflow/internal/bridge/ids"
	"github.com/drblury/wireflow/transport"
)

// Metadata keys stamped on every call message. Both processes must run a
// link, or something speaking the same convention, for calls to correlate.
const (
	// MetadataCorrelationID pairs a request with its reply.
	MetadataCorrelationID = "correlation_id"

	// MetadataReplyTo names the topic the reply must be published to.
	MetadataReplyTo = "reply_to"
)

const (
	// DefaultInboxPrefix prefixes the per-link reply topic.
	DefaultInboxPrefix = "wireflow.reply."

	// DefaultCallTimeout bounds an Invoke whose context carries no deadline
	// of its own.
	DefaultCallTimeout = 30 * time.Second
)

var (
	// ErrClosed is returned for operations on a closed link.
	ErrClosed = errors.New("link: closed")

	// ErrAlreadyRegistered is returned when a channel already has a listener.
	ErrAlreadyRegistered = errors.New("link: channel already registered")

	// ErrNotRegistered is returned when unregistering an unknown channel.
	ErrNotRegistered = errors.New("link: channel not registered")

	// ErrListenerRequired is returned when registering a nil listener.
	ErrListenerRequired = errors.New("link: listener is required")
)

// Options tunes a link. The zero value is usable.
type Options struct {
	// InboxPrefix overrides DefaultInboxPrefix for the reply topic name.
	InboxPrefix string

	// CallTimeout overrides DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger receives transport-level failures. Defaults to the nop logger.
	Logger watermill.LoggerAdapter
}

// Link correlates calls over a publisher/subscriber pair and forwards events.
// It implements transport.Registrar, transport.Invoker, transport.Target and
// transport.EventSource.
//
// The link does not own the underlying transport; whoever built the pair
// closes it. Close only cancels the link's subscriptions and releases
// pending callers.
type Link struct {
	pub     message.Publisher
	sub     message.Subscriber
	logger  watermill.LoggerAdapter
	timeout time.Duration

	// replyTopic is this link's private inbox. Every Invoke advertises it
	// and the reply loop fans replies back out by correlation ID.
	replyTopic string

	mu            sync.Mutex
	pending       map[string]chan []byte
	registrations map[string]context.CancelFunc
	replyCancel   context.CancelFunc
	closed        bool
	done          chan struct{}
}

// New wires a link over the given transport pair.
func New(t transport.Transport, opts Options) (*Link, error) {
	if t.Publisher == nil {
		return nil, errors.New("link: transport publisher is required")
	}
	if t.Subscriber == nil {
		return nil, errors.New("link: transport subscriber is required")
	}

	prefix := opts.InboxPrefix
	if prefix == "" {
		prefix = DefaultInboxPrefix
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Link{
		pub:           t.Publisher,
		sub:           t.Subscriber,
		logger:        logger,
		timeout:       timeout,
		replyTopic:    prefix + ids.NewInboxID(),
		pending:       make(map[string]chan []byte),
		registrations: make(map[string]context.CancelFunc),
		done:          make(chan struct{}),
	}, nil
}

// ReplyTopic returns the link's private inbox topic. Useful for wiring
// broker-side ACLs or retention rules.
func (l *Link) ReplyTopic() string {
	return l.replyTopic
}

// Register attaches a listener to a channel. Each inbound call is answered
// on its advertised reply topic; calls without one are treated as
// fire-and-forget. A listener error is logged and the call goes unanswered,
// so callers must bound their waits.
func (l *Link) Register(channel string, listener transport.Listener) error {
	if listener == nil {
		return fmt.Errorf("%w: channel %q", ErrListenerRequired, channel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, exists := l.registrations[channel]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, channel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls, err := l.sub.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return fmt.Errorf("link: subscribe to channel %q: %w", channel, err)
	}

	l.registrations[channel] = cancel
	go l.serve(ctx, channel, calls, listener)
	return nil
}

// Unregister detaches the listener from a channel.
func (l *Link) Unregister(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cancel, ok := l.registrations[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, channel)
	}
	delete(l.registrations, channel)
	cancel()
	return nil
}

func (l *Link) serve(ctx context.Context, channel string, calls <-chan *message.Message, listener transport.Listener) {
	for msg := range calls {
		// Ack before serving so slow handlers never stall the
		// subscription; calls on one channel run concurrently.
		msg.Ack()
		go l.answer(ctx, channel, msg, listener)
	}
}

func (l *Link) answer(ctx context.Context, channel string, msg *message.Message, listener transport.Listener) {
	reply, err := listener(ctx, msg.Payload)
	if err != nil {
		l.logger.Error("link: listener failed", err, watermill.LogFields{
			"channel":        channel,
			"correlation_id": msg.Metadata.Get(MetadataCorrelationID),
		})
		return
	}

	replyTo := msg.Metadata.Get(MetadataReplyTo)
	if replyTo == "" {
		return
	}

	out := message.NewMessage(ids.CreateULID(), reply)
	out.Metadata.Set(MetadataCorrelationID, msg.Metadata.Get(MetadataCorrelationID))
	if err := l.pub.Publish(replyTo, out); err != nil {
		l.logger.Error("link: reply publish failed", err, watermill.LogFields{
			"channel":  channel,
			"reply_to": replyTo,
		})
	}
}

// Invoke publishes a call and waits for the correlated reply. Without a
// context deadline the configured call timeout applies.
func (l *Link) Invoke(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if err := l.ensureReplyLoopLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}

	correlationID := ids.NewCorrelationID()
	replyCh := make(chan []byte, 1)
	l.pending[correlationID] = replyCh
	l.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	msg := message.NewMessage(correlationID, payload)
	msg.Metadata.Set(MetadataCorrelationID, correlationID)
	msg.Metadata.Set(MetadataReplyTo, l.replyTopic)
	msg.SetContext(ctx)

	if err := l.pub.Publish(channel, msg); err != nil {
		l.forget(correlationID)
		return nil, fmt.Errorf("link: publish call to channel %q: %w", channel, err)
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		l.forget(correlationID)
		return nil, fmt.Errorf("link: call on channel %q: %w", channel, ctx.Err())
	case <-l.done:
		return nil, ErrClosed
	}
}

// ensureReplyLoopLocked starts the reply subscription on first use. Host-only
// links never pay for an inbox they do not invoke through.
func (l *Link) ensureReplyLoopLocked() error {
	if l.replyCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	replies, err := l.sub.Subscribe(ctx, l.replyTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("link: subscribe to reply topic %q: %w", l.replyTopic, err)
	}

	l.replyCancel = cancel
	go l.readReplies(replies)
	return nil
}

func (l *Link) readReplies(replies <-chan *message.Message) {
	for msg := range replies {
		msg.Ack()

		correlationID := msg.Metadata.Get(MetadataCorrelationID)
		if correlationID == "" {
			l.logger.Debug("link: reply without correlation id dropped", nil)
			continue
		}

		l.mu.Lock()
		replyCh, ok := l.pending[correlationID]
		if ok {
			delete(l.pending, correlationID)
		}
		l.mu.Unlock()

		if !ok {
			// The caller gave up before the reply arrived.
			l.logger.Debug("link: unmatched reply dropped", watermill.LogFields{
				"correlation_id": correlationID,
			})
			continue
		}
		replyCh <- msg.Payload
	}
}

func (l *Link) forget(correlationID string) {
	l.mu.Lock()
	delete(l.pending, correlationID)
	l.mu.Unlock()
}

// Send publishes an event payload to a channel. No reply is expected.
func (l *Link) Send(ctx context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.SetContext(ctx)
	if err := l.pub.Publish(channel, msg); err != nil {
		return fmt.Errorf("link: publish event to channel %q: %w", channel, err)
	}
	return nil
}

// Alive reports whether the link still accepts sends.
func (l *Link) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Events subscribes to a channel and forwards raw payloads until the context
// is cancelled or the link's subscription closes.
func (l *Link) Events(ctx context.Context, channel string) (<-chan []byte, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	msgs, err := l.sub.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("link: subscribe to channel %q: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close cancels all subscriptions and releases pending callers with
// ErrClosed. Closing twice is a no-op. The underlying publisher and
// subscriber stay open.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)

	if l.replyCancel != nil {
		l.replyCancel()
		l.replyCancel = nil
	}
	for channel, cancel := range l.registrations {
		cancel()
		delete(l.registrations, channel)
	}
	l.pending = make(map[string]chan []byte)
	l.mu.Unlock()

	return nil
}
