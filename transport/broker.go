package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Broker is a Watermill publisher/subscriber pair produced by a BrokerBuilder.
type Broker struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves, returning the first error.
func (b Broker) Close() error {
	var first error
	if b.Publisher != nil {
		first = b.Publisher.Close()
	}
	if b.Subscriber != nil && any(b.Subscriber) != any(b.Publisher) {
		if err := b.Subscriber.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BrokerBuilder creates a broker from config. Each broker package registers
// one under its name.
type BrokerBuilder func(ctx context.Context, cfg BrokerConfig, logger watermill.LoggerAdapter) (Broker, error)

// BrokerConfig exposes only the settings brokers need, so broker packages do
// not depend on the full config package.
type BrokerConfig interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
