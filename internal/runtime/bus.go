package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	idspkg "github.com/drblury/callflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/callflow/internal/runtime/metadata"
)

// bus is the broadcast channel. Every listener sees every message published
// after it registered, in publish order; nothing is replayed.
type bus struct {
	pubsub    *gochannel.GoChannel
	publisher message.Publisher
	topic     string
	logger    loggingpkg.ServiceLogger

	wg sync.WaitGroup
}

func newBus(topic string, buffer int64, logger loggingpkg.ServiceLogger) *bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            buffer,
		BlockPublishUntilSubscriberAck: true,
	}, loggingpkg.NewWatermillAdapter(logger))

	return &bus{
		pubsub:    pubsub,
		publisher: pubsub,
		topic:     topic,
		logger:    logger,
	}
}

// instrument wraps the publisher with Watermill's Prometheus decorator.
func (b *bus) instrument(registerer prometheus.Registerer, namespace string) error {
	builder := metrics.NewPrometheusMetricsBuilder(registerer, namespace, "broadcast")
	decorated, err := builder.DecoratePublisher(b.publisher)
	if err != nil {
		return fmt.Errorf("instrument broadcast publisher: %w", err)
	}
	b.publisher = decorated
	return nil
}

// Publish blocks until every live listener has handled msg.
func (b *bus) Publish(ctx context.Context, msg Message) error {
	wm := message.NewMessageWithContext(ctx, idspkg.New(), message.Payload(msg.Payload))
	wm.Metadata.Set(metadatapkg.KindKey, msg.Kind)
	if err := metadatapkg.SetCorrelationIDs(wm, msg.CorrelationIDs); err != nil {
		return fmt.Errorf("encode correlation ids: %w", err)
	}
	if err := b.publisher.Publish(b.topic, wm); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Listener is a registered consumer of the broadcast channel.
type Listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the listener and waits for its goroutine. It must not be
// called from the listener's own handler.
func (l *Listener) Close() {
	l.cancel()
	<-l.done
}

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Listen registers a listener before returning, so every message published
// afterwards reaches it. handler runs on the listener goroutine for each
// message accepted by filter, in publish order, and must not block.
func (b *bus) Listen(ctx context.Context, filter func(Message) bool, handler func(Message)) (*Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		cancel()
		return nil, err
	}

	l := &Listener{cancel: cancel, done: make(chan struct{})}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case wm, ok := <-msgs:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					wm.Ack()
					return
				}
				b.deliver(wm, filter, handler)
			}
		}
	}()
	return l, nil
}

func (b *bus) deliver(wm *message.Message, filter func(Message) bool, handler func(Message)) {
	defer wm.Ack()

	ids, err := metadatapkg.CorrelationIDs(wm)
	if err != nil {
		b.logger.Error("Dropping broadcast message with malformed correlation ids", err, loggingpkg.LogFields{
			"message_uuid": wm.UUID,
		})
		return
	}
	msg := Message{
		Kind:           wm.Metadata.Get(metadatapkg.KindKey),
		CorrelationIDs: ids,
		Payload:        Payload(wm.Payload),
	}
	if filter == nil || filter(msg) {
		handler(msg)
	}
}

// Close ends every listener and waits for their goroutines.
func (b *bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
