// Package http registers the HTTP webhook broker. Messages are POSTed to
// HTTPPublisherURL+topic and received on HTTPServerAddress.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/callflow/transport"
)

const Name = "http"

// PublisherFactory can be replaced in tests.
var PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// SubscriberFactory can be replaced in tests.
var SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(Name, Build, transport.HTTPCapabilities)
}

func Build(_ context.Context, cfg transport.BrokerConfig, logger watermill.LoggerAdapter) (transport.Broker, error) {
	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: marshalTo(cfg.GetHTTPPublisherURL()),
	}, logger)
	if err != nil {
		return transport.Broker{}, err
	}

	subscriber, err := SubscriberFactory(cfg.GetHTTPServerAddress(), http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Broker{}, err
	}

	if s, ok := subscriber.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": cfg.GetHTTPServerAddress()})
			}
		}()
	}

	return transport.Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func marshalTo(baseURL string) http.MarshalMessageFunc {
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		return http.DefaultMarshalMessageFunc(baseURL+topic, msg)
	}
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
