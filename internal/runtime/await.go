package runtime

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
)

// Pending is an Await whose listener is already registered. Messages
// published after Prepare returns are never missed.
type Pending struct {
	c             *Correlator
	ctx           context.Context
	endpoint      string
	correlationID string
	listener      *Listener
	result        chan Message
	span          trace.Span
}

// awaitFilter accepts the success and error kinds of endpoint. A non-empty
// correlationID must be among the message's ids.
func awaitFilter(endpoint, correlationID string) func(Message) bool {
	failure := errorKind(endpoint)
	return func(msg Message) bool {
		if msg.Kind != endpoint && msg.Kind != failure {
			return false
		}
		return correlationID == "" || msg.Has(correlationID)
	}
}

// Prepare registers the listener of an Await without blocking. Call Wait to
// resolve it, or Close to abandon it.
func (c *Correlator) Prepare(ctx context.Context, endpoint, correlationID string) (*Pending, error) {
	if _, err := c.lookupEndpoint(endpoint); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, spanAwait, endpointAttr(endpoint), correlationAttr(correlationID))
	p := &Pending{
		c:             c,
		ctx:           ctx,
		endpoint:      endpoint,
		correlationID: correlationID,
		result:        make(chan Message, 1),
		span:          span,
	}

	listener, err := c.bus.Listen(ctx, awaitFilter(endpoint, correlationID), p.offer)
	if err != nil {
		endSpan(span, err)
		return nil, errspkg.ErrCorrelatorClosed
	}
	p.listener = listener
	return p, nil
}

// offer keeps the first match only.
func (p *Pending) offer(msg Message) {
	select {
	case p.result <- msg:
	default:
	}
}

// Wait blocks until the first matching message, the end of the Prepare
// context, or Close of the correlator. The error variant is returned as a
// *RemoteError.
func (p *Pending) Wait() (Payload, error) {
	defer p.listener.Close()

	select {
	case msg := <-p.result:
		return p.settle(msg)
	case <-p.listener.Done():
	}

	select {
	case msg := <-p.result:
		return p.settle(msg)
	default:
	}
	err := p.ctx.Err()
	if err == nil {
		err = errspkg.ErrCorrelatorClosed
	}
	p.c.metrics.RecordAwait(p.endpoint, awaitOutcomeCancelled)
	endSpan(p.span, err)
	return nil, err
}

// Close abandons the await.
func (p *Pending) Close() {
	p.listener.Close()
	p.span.End()
}

func (p *Pending) settle(msg Message) (Payload, error) {
	if msg.IsError(p.endpoint) {
		remote := remoteErrorFrom(p.endpoint, msg)
		p.c.metrics.RecordAwait(p.endpoint, awaitOutcomeError)
		endSpan(p.span, remote)
		return nil, remote
	}
	p.c.metrics.RecordAwait(p.endpoint, awaitOutcomeSuccess)
	endSpan(p.span, nil)
	return msg.Payload, nil
}

// Await blocks until endpoint answers correlationID, or any request when
// correlationID is empty. There is no timeout besides ctx.
func (c *Correlator) Await(ctx context.Context, endpoint, correlationID string) (Payload, error) {
	pending, err := c.Prepare(ctx, endpoint, correlationID)
	if err != nil {
		return nil, err
	}
	return pending.Wait()
}
