package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/callflow/transport"
	"github.com/drblury/callflow/transport/transporttest"
)

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) (*kafka.PublisherConfig, *kafka.SubscriberConfig) {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory, SubscriberFactory = origPub, origSub
	})

	var gotPub kafka.PublisherConfig
	var gotSub kafka.SubscriberConfig
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		gotPub = cfg
		return pub, pubErr
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		gotSub = cfg
		return sub, subErr
	}
	return &gotPub, &gotSub
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.DefaultRegistry.Has(Name))
	assert.Equal(t, transport.KafkaCapabilities, transport.GetCapabilities(Name))
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
	gotPub, gotSub := stubFactories(t, pub, nil, sub, nil)

	cfg := &transporttest.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "callflow",
		KafkaClientID:      "callflow-client",
	}
	broker, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Same(t, pub, broker.Publisher)
	assert.Same(t, sub, broker.Subscriber)
	assert.Equal(t, []string{"localhost:9092"}, gotPub.Brokers)
	assert.Equal(t, "callflow", gotSub.ConsumerGroup)
	require.NotNil(t, gotPub.OverwriteSaramaConfig)
	assert.Equal(t, "callflow-client", gotPub.OverwriteSaramaConfig.ClientID)
	assert.Equal(t, "callflow-client", gotSub.OverwriteSaramaConfig.ClientID)
}

func TestBuildPublisherError(t *testing.T) {
	stubFactories(t, nil, errors.New("publisher error"), nil, nil)

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")
}

func TestBuildSubscriberErrorClosesPublisher(t *testing.T) {
	pub := &transporttest.Publisher{}
	stubFactories(t, pub, nil, nil, errors.New("subscriber error"))

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}
