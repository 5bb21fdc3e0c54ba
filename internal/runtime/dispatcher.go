package runtime

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

// dispatcher is the any-event handler of one connection. It releases the
// pending subscriptions an event answers and classifies the event on a
// worker goroutine, one job at a time, in arrival order.
type dispatcher struct {
	c             *Correlator
	connectionKey string

	mu       sync.Mutex
	queue    chan dispatchJob
	done     chan struct{}
	stopOnce sync.Once
}

type dispatchJob struct {
	endpoint       ConnectionEndpoint
	correlationIDs []string
	event          string
	args           []any
}

func newDispatcher(c *Correlator, connectionKey string, queueSize int) *dispatcher {
	return &dispatcher{
		c:             c,
		connectionKey: connectionKey,
		queue:         make(chan dispatchJob, queueSize),
		done:          make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	d.c.wg.Add(1)
	go func() {
		defer d.c.wg.Done()
		for {
			select {
			case <-d.done:
				return
			case job := <-d.queue:
				d.classify(job)
			}
		}
	}()
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

func (d *dispatcher) queued() int {
	return len(d.queue)
}

// onEvent drains and enqueues under d.mu so jobs keep the order in which
// events reached the connection.
func (d *dispatcher) onEvent(event string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, job := range d.release(event, args) {
		d.c.Logger.Debug("Dispatching connection event", loggingpkg.LogFields{
			"connection":      d.connectionKey,
			"event":           event,
			"endpoint":        job.endpoint.Name,
			"correlation_ids": job.correlationIDs,
		})
		select {
		case d.queue <- job:
		case <-d.done:
			d.c.Logger.Debug("Dropping event for stopped dispatcher", loggingpkg.LogFields{
				"connection": d.connectionKey,
				"event":      event,
			})
			return
		}
	}
}

// release removes, for every endpoint the event triggers, all subscriptions
// of the endpoint's connection and event pair. A dispatcher whose connection
// was flushed or replaced releases nothing.
func (d *dispatcher) release(event string, args []any) []dispatchJob {
	d.c.mu.RLock()
	defer d.c.mu.RUnlock()

	if entry, ok := d.c.connections[d.connectionKey]; !ok || entry.dispatcher != d {
		return nil
	}

	var jobs []dispatchJob
	for _, name := range d.c.endpointOrder {
		ep, ok := d.c.endpoints[name].(ConnectionEndpoint)
		if !ok || ep.ConnectionKey != d.connectionKey || !ep.triggeredBy(event) {
			continue
		}
		jobs = append(jobs, dispatchJob{
			endpoint:       ep,
			correlationIDs: d.c.subs.drain(d.connectionKey, ep.EventName),
			event:          event,
			args:           args,
		})
		d.c.metrics.RecordDispatch(d.connectionKey, event, ep.Name)
	}
	if len(jobs) > 0 {
		d.c.metrics.SetPending(d.c.subs.len())
	}
	return jobs
}

// classify publishes the success variant and, independently, the error
// variant when the respective filter accepts the event. Jobs with no
// released ids still publish.
func (d *dispatcher) classify(job dispatchJob) {
	ctx, span := startSpan(d.c.ctx, spanDispatch,
		endpointAttr(job.endpoint.Name),
		attribute.String("callflow.connection", d.connectionKey),
		attribute.String("callflow.event", job.event),
		attribute.Int("callflow.released", len(job.correlationIDs)),
	)

	success := job.endpoint.Success.match(job.event, job.args)
	failure := job.endpoint.Error.match(job.event, job.args)
	if !success && !failure {
		endSpan(span, nil)
		return
	}

	payload, err := jsoncodec.MarshalArgs(job.args)
	if err != nil {
		d.c.Logger.Error("Failed to encode event arguments", err, loggingpkg.LogFields{
			"connection": d.connectionKey,
			"event":      job.event,
			"endpoint":   job.endpoint.Name,
		})
		endSpan(span, err)
		return
	}

	if success {
		err = d.c.publish(ctx, job.endpoint.Name, false, job.correlationIDs, payload)
	}
	if failure {
		if pubErr := d.c.publish(ctx, job.endpoint.Name, true, job.correlationIDs, payload); pubErr != nil {
			err = pubErr
		}
	}
	endSpan(span, err)
}

// publish puts the success or error variant of endpoint on the broadcast
// channel.
func (c *Correlator) publish(ctx context.Context, endpoint string, failed bool, correlationIDs []string, payload Payload) error {
	kind := endpoint
	if failed {
		kind = errorKind(endpoint)
	}
	msg := Message{Kind: kind, CorrelationIDs: correlationIDs, Payload: payload}
	if err := c.bus.Publish(ctx, msg); err != nil {
		c.Logger.Error("Failed to publish broadcast message", err, loggingpkg.LogFields{
			"kind":            kind,
			"correlation_ids": correlationIDs,
		})
		return err
	}
	c.metrics.RecordPublish(endpoint, failed)
	return nil
}
