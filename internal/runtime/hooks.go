package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

// CallContext provides information about a callable endpoint invocation to
// hooks.
type CallContext struct {
	// Endpoint is the name of the callable endpoint.
	Endpoint string
	// CorrelationID identifies the request being answered.
	CorrelationID string
	// Context is the detached context the callable runs with.
	Context context.Context
	// StartedAt is when the callable was invoked.
	StartedAt time.Time
	// Duration is how long the callable took (only set in OnCallDone and OnCallError).
	Duration time.Duration
}

// CallHooks defines callbacks around callable endpoint invocations.
// All hooks are optional - nil hooks are simply not called.
type CallHooks struct {
	// OnCallStart is called right before the callable runs.
	OnCallStart func(ctx CallContext)

	// OnCallDone is called when the callable returned a result.
	OnCallDone func(ctx CallContext)

	// OnCallError is called when the callable failed or panicked. The
	// failure is published on the endpoint's error variant afterwards.
	OnCallError func(ctx CallContext, err error)
}

// Merge combines two CallHooks. The hooks from 'other' run after the hooks
// from 'h'.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart: chainCallHooks(h.OnCallStart, other.OnCallStart),
		OnCallDone:  chainCallHooks(h.OnCallDone, other.OnCallDone),
		OnCallError: chainCallErrorHooks(h.OnCallError, other.OnCallError),
	}
}

func chainCallHooks(a, b func(CallContext)) func(CallContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext) {
		a(ctx)
		b(ctx)
	}
}

func chainCallErrorHooks(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h CallHooks) start(ctx CallContext) {
	if h.OnCallStart != nil {
		h.OnCallStart(ctx)
	}
}

func (h CallHooks) finish(ctx CallContext, err error) {
	if err != nil {
		if h.OnCallError != nil {
			h.OnCallError(ctx, err)
		}
		return
	}
	if h.OnCallDone != nil {
		h.OnCallDone(ctx)
	}
}

// LoggingCallHooks returns hooks that log every callable invocation.
func LoggingCallHooks(logger loggingpkg.ServiceLogger) CallHooks {
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			logger.Debug("Call started", loggingpkg.LogFields{
				"endpoint":       ctx.Endpoint,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnCallDone: func(ctx CallContext) {
			logger.Info("Call completed", loggingpkg.LogFields{
				"endpoint":       ctx.Endpoint,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnCallError: func(ctx CallContext, err error) {
			logger.Error("Call failed", err, loggingpkg.LogFields{
				"endpoint":       ctx.Endpoint,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsCallHooks returns hooks that forward to plain counters keyed by
// endpoint name.
func MetricsCallHooks(onStart, onDone, onError func(endpoint string)) CallHooks {
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			if onStart != nil {
				onStart(ctx.Endpoint)
			}
		},
		OnCallDone: func(ctx CallContext) {
			if onDone != nil {
				onDone(ctx.Endpoint)
			}
		},
		OnCallError: func(ctx CallContext, err error) {
			if onError != nil {
				onError(ctx.Endpoint)
			}
		},
	}
}

// AlertingCallHooks returns hooks that only fire on failures.
func AlertingCallHooks(alertFunc func(ctx CallContext, err error)) CallHooks {
	return CallHooks{
		OnCallError: alertFunc,
	}
}
