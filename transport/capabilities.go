package transport

// Capabilities describes the delivery guarantees of a broker. The pub/sub
// adapter reports them through the introspection API so operators can see
// whether replies may arrive out of order or be redelivered.
type Capabilities struct {
	Name string `json:"name"`

	// SupportsOrdering means events emitted on one connection arrive in
	// emit order.
	SupportsOrdering bool `json:"supports_ordering"`
	// SupportsAck means the broker waits for explicit acknowledgement.
	SupportsAck bool `json:"supports_ack"`
	// SupportsNack means a negative acknowledgement triggers redelivery.
	SupportsNack bool `json:"supports_nack"`
	// SupportsTracing means metadata headers travel with each event.
	SupportsTracing bool `json:"supports_tracing"`
	// Durable means events survive a broker restart.
	Durable bool `json:"durable"`
	// MaxMessageSize in bytes; zero when unbounded or unknown.
	MaxMessageSize int64 `json:"max_message_size"`
}

// ReliableDelivery reports at-least-once semantics.
func (c Capabilities) ReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// MayReorder reports whether replies on one connection can overtake each
// other. Endpoints relying on ordered replies should avoid such brokers.
func (c Capabilities) MayReorder() bool {
	return !c.SupportsOrdering
}

// Fits reports whether an encoded event of size bytes can be carried.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Durable:          true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1 << 20,
	}

	JetStreamCapabilities = Capabilities{
		Name:             "jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   1 << 20,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: false,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   256 << 10,
	}
)
