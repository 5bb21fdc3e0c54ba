package runtime

import (
	"context"
	"errors"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	idspkg "github.com/drblury/callflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

// SuccessHandler receives the payload of every successful occurrence.
type SuccessHandler func(ctx context.Context, payload Payload)

// ErrorHandler receives every error occurrence.
type ErrorHandler func(ctx context.Context, err *RemoteError)

// Request sends args to endpoint under a fresh correlation id and waits for
// that id's answer. When ctx ends first, the request's pending subscriptions
// are dropped.
func (c *Correlator) Request(ctx context.Context, endpoint string, args ...any) (Payload, error) {
	correlationID := idspkg.New()
	pending, err := c.Prepare(ctx, endpoint, correlationID)
	if err != nil {
		return nil, err
	}
	if _, err := c.Send(ctx, endpoint, correlationID, args...); err != nil {
		pending.Close()
		return nil, err
	}

	payload, err := pending.Wait()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		c.Cancel(correlationID)
	}
	return payload, err
}

// ForEvery runs onSuccess, or onError for error occurrences, as a separate
// task for every answer of endpoint until ctx ends. It returns once the
// listener is registered. A nil onError ignores errors.
func (c *Correlator) ForEvery(ctx context.Context, endpoint string, onSuccess SuccessHandler, onError ErrorHandler) error {
	return c.every(ctx, endpoint, onSuccess, onError)
}

// SpawnEvery is ForEvery detached from ctx's cancellation: it keeps ctx's
// values but runs until the correlator is closed.
func (c *Correlator) SpawnEvery(ctx context.Context, endpoint string, onSuccess SuccessHandler, onError ErrorHandler) error {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)
	if err := c.every(detached, endpoint, onSuccess, onError); err != nil {
		stop()
		cancel()
		return err
	}
	return nil
}

// every holds one listener for its whole life, so no occurrence falls
// between two iterations.
func (c *Correlator) every(ctx context.Context, endpoint string, onSuccess SuccessHandler, onError ErrorHandler) error {
	if onSuccess == nil {
		return errspkg.ErrHandlerRequired
	}
	if _, err := c.lookupEndpoint(endpoint); err != nil {
		return err
	}

	_, err := c.bus.Listen(ctx, awaitFilter(endpoint, ""), func(msg Message) {
		if msg.IsError(endpoint) {
			c.metrics.RecordAwait(endpoint, awaitOutcomeError)
			if onError == nil {
				return
			}
			remote := remoteErrorFrom(endpoint, msg)
			c.scheduler.Go(func() { onError(ctx, remote) })
			return
		}
		c.metrics.RecordAwait(endpoint, awaitOutcomeSuccess)
		payload := msg.Payload
		c.scheduler.Go(func() { onSuccess(ctx, payload) })
	})
	if err != nil {
		return errspkg.ErrCorrelatorClosed
	}

	c.Logger.Debug("Listening for every occurrence", loggingpkg.LogFields{"endpoint": endpoint})
	return nil
}
