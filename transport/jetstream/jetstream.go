// Package jetstream registers a NATS JetStream broker. Every connection topic
// maps to a subject under one stream; subscribers use ephemeral pull
// consumers that start at the newest message, so a reconnecting manager never
// sees replies that were emitted while it was away.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/callflow/internal/runtime/ids"
	"github.com/drblury/callflow/transport"
)

const Name = "jetstream"

const (
	DefaultStreamName = "CALLFLOW"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second
	DefaultMaxAge     = time.Hour

	fetchBatch = 10
	fetchWait  = time.Second
)

// Connect can be replaced in tests.
var Connect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(Name, Build, transport.JetStreamCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.JetStreamCapabilities
}

// Build connects to the configured NATS URL and provisions the stream.
func Build(_ context.Context, cfg transport.BrokerConfig, logger watermill.LoggerAdapter) (transport.Broker, error) {
	b, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Broker{}, err
	}
	return transport.Broker{Publisher: b, Subscriber: b}, nil
}

type Config struct {
	URL string
	// StreamName defaults to CALLFLOW.
	StreamName string
	MaxDeliver int
	AckWait    time.Duration
	// MaxAge bounds how long unanswered events stay in the stream.
	MaxAge   time.Duration
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      c.StreamName,
		Subjects:  []string{c.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    c.MaxAge,
		Replicas:  c.Replicas,
	}
}

// Subject maps a topic such as "chat.lobby" into the stream.
func (c Config) Subject(topic string) string {
	return c.StreamName + "." + strings.Trim(topic, ".")
}

// Broker implements message.Publisher and message.Subscriber.
type Broker struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	subs    []*nats.Subscription
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Broker, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL, nats.Name("callflow-jetstream"))
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect %s: %w", cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	b := &Broker{
		nc:      nc,
		js:      js,
		config:  cfg,
		logger:  logger.With(watermill.LogFields{"stream": cfg.StreamName}),
		closing: make(chan struct{}),
	}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) ensureStream() error {
	streamCfg := b.config.streamConfig()
	if _, err := b.js.AddStream(streamCfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("jetstream: add stream: %w", err)
		}
		if _, err := b.js.UpdateStream(streamCfg); err != nil {
			b.logger.Info("JetStream stream exists with a different config", watermill.LogFields{"error": err.Error()})
		}
	}
	return nil
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) Publish(topic string, messages ...*message.Message) error {
	if b.isClosed() {
		return fmt.Errorf("jetstream: broker is closed")
	}
	subject := b.config.Subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(nats.MsgIdHdr, msg.UUID)
		if _, err := b.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}); err != nil {
			return fmt.Errorf("jetstream: publish %s: %w", subject, err)
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("jetstream: broker is closed")
	}

	subject := b.config.Subject(topic)
	sub, err := b.js.PullSubscribe(subject, "",
		nats.BindStream(b.config.StreamName),
		nats.DeliverNew(),
		nats.AckExplicit(),
		nats.MaxDeliver(b.config.MaxDeliver),
		nats.AckWait(b.config.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)

	output := make(chan *message.Message)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(output)
		defer func() { _ = sub.Unsubscribe() }()
		b.fetch(ctx, sub, output, topic)
	}()
	return output, nil
}

func (b *Broker) fetch(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	logger := b.logger.With(watermill.LogFields{"topic": topic})
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closing:
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			logger.Error("Failed to fetch messages", err, nil)
			continue
		}

		for _, natsMsg := range msgs {
			if !b.deliver(ctx, natsMsg, output, logger) {
				return
			}
		}
	}
}

// deliver hands one message downstream and mirrors the outcome to NATS.
// It returns false once the subscriber is gone.
func (b *Broker) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message, logger watermill.LoggerAdapter) bool {
	msg := toWatermill(natsMsg)
	select {
	case output <- msg:
	case <-ctx.Done():
		return false
	case <-b.closing:
		return false
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			logger.Error("Failed to ack", err, nil)
		}
	case <-msg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			logger.Error("Failed to nak", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-b.closing:
		return false
	}
	return true
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = ids.New()
	}
	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.wg.Wait()
	b.nc.Close()
	return nil
}
