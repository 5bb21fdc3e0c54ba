// Package channel registers the in-process gochannel broker. Connections
// built on it only talk to other connections in the same process, which makes
// it the broker of choice for tests and single-binary deployments.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/callflow/transport"
)

const Name = "channel"

// Factory can be replaced in tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := gochannel.NewGoChannel(cfg, logger)
	return ps, ps
}

func init() {
	Register()
}

// Register adds the broker to the default registry.
func Register() {
	transport.RegisterWithCapabilities(Name, Build, transport.ChannelCapabilities)
}

// Build returns a fresh gochannel. Every Build yields an isolated bus.
// Publish waits for subscribers to ack so events keep their emit order.
func Build(_ context.Context, _ transport.BrokerConfig, logger watermill.LoggerAdapter) (transport.Broker, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return transport.Broker{Publisher: pub, Subscriber: sub}, nil
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
