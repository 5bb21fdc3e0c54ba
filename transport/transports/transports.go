// Package transports registers every built-in broker with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/callflow/transport/aws"
	_ "github.com/drblury/callflow/transport/channel"
	_ "github.com/drblury/callflow/transport/http"
	_ "github.com/drblury/callflow/transport/jetstream"
	_ "github.com/drblury/callflow/transport/kafka"
	_ "github.com/drblury/callflow/transport/nats"
	_ "github.com/drblury/callflow/transport/rabbitmq"
)
