// Package kafka registers the Kafka broker.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/callflow/transport"
)

const Name = "kafka"

// PublisherFactory can be replaced in tests.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory can be replaced in tests.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(Name, Build, transport.KafkaCapabilities)
}

// Build connects a publisher and a consumer-group subscriber to the
// configured brokers. The client id, when set, is applied to both.
func Build(_ context.Context, cfg transport.BrokerConfig, logger watermill.LoggerAdapter) (transport.Broker, error) {
	brokers := cfg.GetKafkaBrokers()

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	subSarama := kafka.DefaultSaramaSubscriberConfig()
	applyClientID(cfg.GetKafkaClientID(), pubSarama, subSarama)

	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: pubSarama,
	}, logger)
	if err != nil {
		return transport.Broker{}, err
	}

	subscriber, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
		OverwriteSaramaConfig: subSarama,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Broker{}, err
	}

	return transport.Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func applyClientID(id string, configs ...*sarama.Config) {
	if id == "" {
		return
	}
	for _, c := range configs {
		c.ClientID = id
	}
}

func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
