package bridge

import (
	"context"
	"fmt"

	"github.com/drblury/wireflow/internal/bridge/config"
	"github.com/drblury/wireflow/internal/bridge/contract"
	"github.com/drblury/wireflow/internal/bridge/diag"
	errspkg "github.com/drblury/wireflow/internal/bridge/errors"
	"github.com/drblury/wireflow/internal/bridge/logging"
	"github.com/drblury/wireflow/transport"
)

// SubscribeOptions holds the optional collaborators for Subscribe. The zero
// value is valid.
type SubscribeOptions struct {
	// ChannelPrefix overrides the default "event/" prefix. It must match
	// the prefix the publisher was built with.
	ChannelPrefix string

	// Diagnostics receives advisory notifications about undecodable
	// payloads and failing handlers.
	Diagnostics diag.Hooks

	// Logger, when set, is chained into the diagnostics hooks.
	Logger logging.ServiceLogger
}

// Subscribe consumes ev's channel from source until ctx is cancelled or the
// stream closes, decoding each payload and handing it to fn. Payloads that
// fail to decode are reported and skipped; handler errors and panics are
// reported and never end the subscription.
func Subscribe[P any](ctx context.Context, source transport.EventSource, ev contract.Event[P], fn func(ctx context.Context, payload P) error, opts SubscribeOptions) error {
	if source == nil {
		return errspkg.ErrSourceRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	spec := ev.Spec()
	if spec == nil {
		return errspkg.ErrUnknownEvent
	}

	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = config.DefaultEventPrefix
	}

	hooks := opts.Diagnostics
	if opts.Logger != nil {
		hooks = hooks.Merge(diag.LoggingHooks(opts.Logger))
	}

	channel := prefix + spec.Name()
	payloads, err := source.Events(ctx, channel)
	if err != nil {
		return fmt.Errorf("wireflow: subscribe to channel %q: %w", channel, err)
	}

	pc := ev.PayloadCodec()
	go func() {
		for raw := range payloads {
			payload, err := pc.Unmarshal(raw)
			if err != nil {
				hooks.EmitDecodeFailure(diag.DecodeFailure{
					Scope: diag.ScopeEventPayload,
					Name:  spec.Name(),
					Raw:   string(raw),
					Cause: err,
				})
				continue
			}
			if err := deliver(ctx, fn, payload); err != nil {
				hooks.EmitDispatchFailure(diag.DispatchFailure{
					Event:   spec.Name(),
					Channel: channel,
					Cause:   err,
				})
			}
		}
	}()
	return nil
}

func deliver[P any](ctx context.Context, fn func(context.Context, P) error, payload P) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, payload)
}
