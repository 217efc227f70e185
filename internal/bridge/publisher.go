package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/wireflow/internal/bridge/config"
	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	errspkg "github.com/drblury/wireflow/internal/bridge/errors"
	"github.com/drblury/wireflow/internal/bridge/logging"
	"github.com/drblury/wireflow/internal/bridge/metrics"
	"github.com/drblury/wireflow/transport"
)

// PublisherOptions holds the optional collaborators for NewPublisher. The
// zero value is valid.
type PublisherOptions struct {
	// ChannelPrefix overrides the default "event/" prefix on event channels.
	ChannelPrefix string

	// MaxQueueSize bounds the in-memory event queue. Zero selects the
	// default of 1000; a negative value fails construction.
	MaxQueueSize int

	// Diagnostics receives advisory notifications about drops and dispatch
	// failures. Hooks never affect publishing.
	Diagnostics diag.Hooks

	// Logger, when set, reports lifecycle transitions and is chained into
	// the diagnostics hooks.
	Logger logging.ServiceLogger

	// Metrics, when set, records queue depth, published events, and drops.
	Metrics *metrics.Metrics
}

// QueueStats is a point-in-time snapshot of a publisher queue. Dropped is
// monotonically non-decreasing over the publisher's lifetime.
type QueueStats struct {
	Queued  int
	Dropped uint64
}

// queueItem defers payload encoding to dispatch time; the typed payload is
// retained for drop diagnostics.
type queueItem struct {
	event   string
	payload any
	encode  func() ([]byte, error)
}

// Publisher pushes contract events to a remote target through a bounded
// FIFO queue. Publish never blocks: when the queue is full the oldest item
// is evicted to make room. A single background drain pass dispatches queued
// items in publish order while the publisher is running.
type Publisher struct {
	contract  *contract.Contract
	getTarget func() transport.Target
	prefix    string
	capacity  int
	hooks     diag.Hooks
	logger    logging.ServiceLogger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	state    lifecycleState
	queue    []queueItem
	dropped  uint64
	draining bool
}

// NewPublisher returns a stopped publisher for c's events. getTarget is
// consulted on every dispatch and may return nil while no target is
// connected.
func NewPublisher(c *contract.Contract, getTarget func() transport.Target, opts PublisherOptions) (*Publisher, error) {
	if c == nil {
		return nil, errspkg.ErrContractRequired
	}
	if getTarget == nil {
		return nil, errspkg.ErrTargetRequired
	}

	capacity := opts.MaxQueueSize
	if capacity == 0 {
		capacity = config.DefaultQueueSize
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: got %d", errspkg.ErrInvalidQueueSize, opts.MaxQueueSize)
	}

	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultEventPrefix
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	hooks := opts.Diagnostics
	if opts.Logger != nil {
		hooks = hooks.Merge(diag.LoggingHooks(opts.Logger))
	}
	if opts.Metrics != nil {
		hooks = hooks.Merge(diag.MetricsHooks(opts.Metrics))
	}

	return &Publisher{
		contract:  c,
		getTarget: getTarget,
		prefix:    prefix,
		capacity:  capacity,
		hooks:     hooks,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Publish enqueues one event without blocking. When the queue is at
// capacity the oldest item is evicted first and recorded as a drop. On a
// disposed publisher Publish is a no-op. The only error is an event that
// does not belong to the publisher's contract.
func Publish[P any](p *Publisher, ev contract.Event[P], payload P) error {
	spec := ev.Spec()
	if spec == nil {
		return errspkg.ErrUnknownEvent
	}
	if spec.Contract() != p.contract {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEvent, spec.Name())
	}

	pc := ev.PayloadCodec()
	p.enqueue(queueItem{
		event:   spec.Name(),
		payload: payload,
		encode:  func() ([]byte, error) { return pc.Marshal(payload) },
	})
	return nil
}

func (p *Publisher) enqueue(item queueItem) {
	p.mu.Lock()
	if p.state == stateDisposed {
		p.mu.Unlock()
		return
	}

	evicted := false
	var drop diag.EventDrop
	if len(p.queue) >= p.capacity {
		oldest := p.queue[0]
		p.queue[0] = queueItem{}
		p.queue = p.queue[1:]
		p.dropped++
		evicted = true
		drop = diag.EventDrop{
			Event:   oldest.event,
			Payload: oldest.payload,
			Reason:  diag.DropQueueFull,
			Queued:  len(p.queue),
			Dropped: p.dropped,
		}
	}
	p.queue = append(p.queue, item)
	depth := len(p.queue)

	schedule := p.state == stateRunning && !p.draining
	if schedule {
		p.draining = true
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetQueueDepth(p.contract.Name(), depth)
	}
	if evicted {
		p.hooks.EmitEventDropped(drop)
	}
	if schedule {
		go p.drain()
	}
}

// drain dispatches queued items oldest-first until the queue empties or the
// publisher leaves the running state. At most one drain pass runs per
// publisher; the draining flag is owned by the same mutex as the queue.
func (p *Publisher) drain() {
	ctx := context.Background()
	for {
		p.mu.Lock()
		if p.state != stateRunning || len(p.queue) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue[0] = queueItem{}
		p.queue = p.queue[1:]
		depth := len(p.queue)
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.SetQueueDepth(p.contract.Name(), depth)
		}
		p.dispatch(ctx, item)
	}
}

// dispatch encodes and pushes one item. Failures drop the item and return;
// the drain loop carries on with the next item regardless.
func (p *Publisher) dispatch(ctx context.Context, item queueItem) {
	payload, err := item.encode()
	if err != nil {
		p.hooks.EmitDecodeFailure(diag.DecodeFailure{
			Scope: diag.ScopeEventPayload,
			Name:  item.event,
			Raw:   item.payload,
			Cause: err,
		})
		p.drop(item, diag.DropEncodingFailed)
		return
	}

	target := p.getTarget()
	if target == nil || !target.Alive() {
		p.drop(item, diag.DropTargetUnavailable)
		return
	}

	channel := p.prefix + item.event
	if err := target.Send(ctx, channel, payload); err != nil {
		p.hooks.EmitDispatchFailure(diag.DispatchFailure{
			Event:   item.event,
			Channel: channel,
			Cause:   err,
		})
		p.drop(item, diag.DropDispatchFailed)
		return
	}

	if p.metrics != nil {
		p.metrics.RecordEventPublished(item.event)
	}
}

func (p *Publisher) drop(item queueItem, reason diag.DropReason) {
	p.mu.Lock()
	p.dropped++
	drop := diag.EventDrop{
		Event:   item.event,
		Payload: item.payload,
		Reason:  reason,
		Queued:  len(p.queue),
		Dropped: p.dropped,
	}
	p.mu.Unlock()

	p.hooks.EmitEventDropped(drop)
}

// Start begins (or resumes) draining. Starting a running publisher is a
// no-op; starting a disposed publisher fails with ErrDisposed. Items queued
// while stopped are picked up immediately.
func (p *Publisher) Start() error {
	p.mu.Lock()
	switch p.state {
	case stateDisposed:
		p.mu.Unlock()
		return errspkg.ErrDisposed
	case stateRunning:
		p.mu.Unlock()
		return nil
	}
	p.state = stateRunning
	queued := len(p.queue)
	resume := queued > 0 && !p.draining
	if resume {
		p.draining = true
	}
	p.mu.Unlock()

	p.logger.Info("Publisher started", logging.LogFields{
		"contract": p.contract.Name(),
		"queued":   queued,
		"prefix":   p.prefix,
	})
	if resume {
		go p.drain()
	}
	return nil
}

// Stop pauses draining. Queue contents and counters are preserved; a later
// Start resumes where draining left off. Stopping a stopped publisher is a
// no-op.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	queued := len(p.queue)
	p.mu.Unlock()

	p.logger.Info("Publisher stopped", logging.LogFields{
		"contract": p.contract.Name(),
		"queued":   queued,
	})
	return nil
}

// Dispose stops the publisher, discards the queue, and makes the publisher
// terminal. Disposing twice is a no-op.
func (p *Publisher) Dispose() error {
	p.mu.Lock()
	if p.state == stateDisposed {
		p.mu.Unlock()
		return nil
	}
	p.state = stateDisposed
	p.queue = nil
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetQueueDepth(p.contract.Name(), 0)
	}
	p.logger.Info("Publisher disposed", logging.LogFields{"contract": p.contract.Name()})
	return nil
}

// IsRunning reports whether Start has succeeded and neither Stop nor
// Dispose has been called since.
func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateRunning
}

// Stats returns a snapshot of the queue depth and the lifetime drop count.
func (p *Publisher) Stats() QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return QueueStats{Queued: len(p.queue), Dropped: p.dropped}
}
