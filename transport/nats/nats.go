// Package nats registers the NATS Core broker through watermill-nats. For a
// native nats.go connection with reconnect signals see package natsconn.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/callflow/transport"
)

const Name = "nats"

var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(Name, Build, transport.NATSCapabilities)
}

// Build connects both halves to the configured URL. Connections are named so
// they can be told apart in the NATS monitoring endpoints.
func Build(_ context.Context, cfg transport.BrokerConfig, logger watermill.LoggerAdapter) (transport.Broker, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		Marshaler:   marshaler,
		NatsOptions: []nc.Option{nc.Name("callflow-publisher")},
	}, logger)
	if err != nil {
		return transport.Broker{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:         url,
		Unmarshaler: marshaler,
		NatsOptions: []nc.Option{nc.Name("callflow-subscriber")},
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Broker{}, err
	}

	return transport.Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
