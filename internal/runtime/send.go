package runtime

import (
	"context"
	"fmt"
	"time"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	idspkg "github.com/drblury/callflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

// Send issues a request to endpoint and returns its correlation id without
// waiting for the response. An empty correlationID is replaced by a fresh
// one.
//
// Callable endpoints run as a scheduled task with a context that outlives
// ctx's cancellation. Connection endpoints record a pending subscription
// before emitting, so a reply arriving during Emit is still matched.
func (c *Correlator) Send(ctx context.Context, endpoint, correlationID string, args ...any) (string, error) {
	ep, err := c.lookupEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if correlationID == "" {
		correlationID = idspkg.New()
	}

	ctx, span := startSpan(ctx, spanSend, endpointAttr(endpoint), correlationAttr(correlationID))
	switch e := ep.(type) {
	case CallableEndpoint:
		c.sendCallable(ctx, e, correlationID, args)
	case ConnectionEndpoint:
		err = c.sendConnection(ctx, e, correlationID, args)
	}
	endSpan(span, err)

	c.metrics.RecordSend(endpoint, endpointKind(ep), err)
	if err != nil {
		return "", err
	}
	c.Logger.Debug("Sent request", loggingpkg.LogFields{
		"endpoint":       endpoint,
		"correlation_id": correlationID,
	})
	return correlationID, nil
}

func (c *Correlator) sendConnection(ctx context.Context, ep ConnectionEndpoint, correlationID string, args []any) error {
	c.mu.RLock()
	entry, ok := c.connections[ep.ConnectionKey]
	c.mu.RUnlock()
	if !ok {
		return &errspkg.UnknownConnectionError{Key: ep.ConnectionKey}
	}

	sub := c.subs.add(ep.ConnectionKey, ep.EventName, correlationID)
	c.metrics.SetPending(c.subs.len())

	if err := entry.conn.Emit(ctx, ep.EventName, args...); err != nil {
		c.subs.remove(sub.ID)
		c.metrics.SetPending(c.subs.len())
		return fmt.Errorf("emit %s on %s: %w", ep.EventName, ep.ConnectionKey, err)
	}
	return nil
}

func (c *Correlator) sendCallable(ctx context.Context, ep CallableEndpoint, correlationID string, args []any) {
	taskCtx := context.WithoutCancel(ctx)
	c.scheduler.Go(func() {
		c.runCallable(taskCtx, ep, correlationID, args)
	})
}

// runCallable turns the callable's outcome into a broadcast message. Errors
// and panics become the error variant with an {"error": ...} payload.
func (c *Correlator) runCallable(ctx context.Context, ep CallableEndpoint, correlationID string, args []any) {
	callCtx := CallContext{
		Endpoint:      ep.Name,
		CorrelationID: correlationID,
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	c.callHooks.start(callCtx)

	result, err := invoke(ctx, ep.Fn, args)
	callCtx.Duration = time.Since(callCtx.StartedAt)
	c.metrics.RecordCall(ep.Name, callCtx.Duration)

	var payload Payload
	if err == nil {
		payload, err = encodePayload(result)
	}
	c.callHooks.finish(callCtx, err)

	ids := []string{correlationID}
	if err != nil {
		c.Logger.Debug("Callable endpoint failed", loggingpkg.LogFields{
			"endpoint":       ep.Name,
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		_ = c.publish(ctx, ep.Name, true, ids, errorPayload(err))
		return
	}
	_ = c.publish(ctx, ep.Name, false, ids, payload)
}

func invoke(ctx context.Context, fn CallFunc, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, args...)
}
