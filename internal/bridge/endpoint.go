package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/wireflow/internal/bridge/config"
	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	"github.com/drblury/wireflow/internal/bridge/envelope"
	errspkg "github.com/drblury/wireflow/internal/bridge/errors"
	"github.com/drblury/wireflow/internal/bridge/logging"
	"github.com/drblury/wireflow/internal/bridge/metrics"
	"github.com/drblury/wireflow/transport"
)

type lifecycleState int

const (
	stateStopped lifecycleState = iota
	stateRunning
	stateDisposed
)

// EndpointOptions holds the optional collaborators for NewEndpoint. The zero
// value is valid.
type EndpointOptions struct {
	// ChannelPrefix overrides the default "rpc/" prefix on method channels.
	ChannelPrefix string

	// Diagnostics receives advisory notifications about decode and protocol
	// failures. Hooks never affect call outcomes.
	Diagnostics diag.Hooks

	// Logger, when set, reports lifecycle transitions and is chained into
	// the diagnostics hooks.
	Logger logging.ServiceLogger

	// Metrics, when set, records per-call outcomes and durations.
	Metrics *metrics.Metrics
}

// Endpoint serves the methods of one contract over a channel registrar. It
// registers one listener per method channel and answers every inbound call
// with a reply envelope.
type Endpoint struct {
	contract  *contract.Contract
	registrar transport.Registrar
	prefix    string
	hooks     diag.Hooks
	logger    logging.ServiceLogger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	impls map[string]Implementation

	mu         sync.Mutex
	state      lifecycleState
	registered []string
}

// NewEndpoint validates that impls covers the contract exactly and returns a
// stopped endpoint. Validation is exhaustive: every missing, unknown, and
// duplicate implementation is reported in one joined error.
func NewEndpoint(c *contract.Contract, registrar transport.Registrar, impls []Implementation, opts EndpointOptions) (*Endpoint, error) {
	if c == nil {
		return nil, errspkg.ErrContractRequired
	}
	if registrar == nil {
		return nil, errspkg.ErrRegistrarRequired
	}

	byMethod := make(map[string]Implementation, len(impls))
	var problems []error
	for _, impl := range impls {
		name := impl.Method()
		if name == "" || impl.run == nil {
			problems = append(problems, errspkg.ErrHandlerRequired)
			continue
		}
		if _, ok := c.MethodSpec(name); !ok {
			problems = append(problems, fmt.Errorf("%w: %q", errspkg.ErrUnknownImplementation, name))
			continue
		}
		if _, ok := byMethod[name]; ok {
			problems = append(problems, fmt.Errorf("%w: %q", errspkg.ErrDuplicateImplementation, name))
			continue
		}
		byMethod[name] = impl
	}
	for _, name := range c.MethodNames() {
		if _, ok := byMethod[name]; !ok {
			problems = append(problems, fmt.Errorf("%w: %q", errspkg.ErrMissingImplementation, name))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("wireflow: endpoint for contract %q: %w", c.Name(), errors.Join(problems...))
	}

	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultCallPrefix
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	hooks := opts.Diagnostics
	if opts.Logger != nil {
		hooks = hooks.Merge(diag.LoggingHooks(opts.Logger))
	}

	return &Endpoint{
		contract:  c,
		registrar: registrar,
		prefix:    prefix,
		hooks:     hooks,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("wireflow-endpoint"),
		impls:     byMethod,
	}, nil
}

// Start registers one listener per contract method. When any registration
// fails, the channels registered so far are rolled back and the endpoint
// stays stopped. Starting a running endpoint is a no-op; starting a disposed
// endpoint fails with ErrDisposed.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateDisposed:
		return errspkg.ErrDisposed
	case stateRunning:
		return nil
	}

	names := e.contract.MethodNames()
	registered := make([]string, 0, len(names))
	for _, name := range names {
		channel := e.prefix + name
		if err := e.registrar.Register(channel, e.listenerFor(name, e.impls[name])); err != nil {
			for i := len(registered) - 1; i >= 0; i-- {
				if uerr := e.registrar.Unregister(registered[i]); uerr != nil {
					e.logger.Error("Failed to roll back channel registration", uerr,
						logging.LogFields{"channel": registered[i]})
				}
			}
			return fmt.Errorf("wireflow: register channel %q: %w", channel, err)
		}
		registered = append(registered, channel)
	}

	e.registered = registered
	e.state = stateRunning
	e.logger.Info("Endpoint started", logging.LogFields{
		"contract": e.contract.Name(),
		"methods":  len(names),
		"prefix":   e.prefix,
	})
	return nil
}

// Stop unregisters every method channel. All channels are attempted even
// when some fail; the first failure is returned after the sweep. The
// endpoint is marked stopped either way. Stopping a stopped endpoint is a
// no-op.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Endpoint) stopLocked() error {
	if e.state != stateRunning {
		return nil
	}

	var first error
	for _, channel := range e.registered {
		if err := e.registrar.Unregister(channel); err != nil && first == nil {
			first = fmt.Errorf("wireflow: unregister channel %q: %w", channel, err)
		}
	}
	e.registered = nil
	e.state = stateStopped
	e.logger.Info("Endpoint stopped", logging.LogFields{"contract": e.contract.Name()})
	return first
}

// Dispose stops the endpoint and makes it terminal. Disposing twice is a
// no-op.
func (e *Endpoint) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateDisposed {
		return nil
	}
	err := e.stopLocked()
	e.state = stateDisposed
	return err
}

// IsRunning reports whether Start has succeeded and neither Stop nor Dispose
// has been called since.
func (e *Endpoint) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateRunning
}

func (e *Endpoint) listenerFor(method string, impl Implementation) transport.Listener {
	return func(ctx context.Context, request []byte) ([]byte, error) {
		return e.dispatch(ctx, method, impl, request), nil
	}
}

// dispatch runs one call through the implementation pipeline and encodes the
// reply. It never returns an error to the transport; an un-encodable reply
// degrades to a defect envelope.
func (e *Endpoint) dispatch(ctx context.Context, method string, impl Implementation, request []byte) []byte {
	ctx, span := e.tracer.Start(ctx, "HandleCall")
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.contract", e.contract.Name()),
		attribute.String("rpc.method", method),
	)

	start := time.Now()
	env, outcome := impl.run(ctx, request, e.hooks)
	span.SetAttributes(attribute.String("rpc.outcome", outcome))
	if e.metrics != nil {
		e.metrics.RecordCall(method, outcome, time.Since(start))
	}

	data, err := env.Encode()
	if err != nil {
		fallback := envelope.ToDefect(err, "response encoding failed")
		data, _ = fallback.Encode()
	}
	return data
}
