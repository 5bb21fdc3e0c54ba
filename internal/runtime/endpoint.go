package runtime

import (
	"context"
	"slices"
)

// CallFunc backs a callable endpoint. The returned value is encoded as the
// success payload; a returned error is published on the error variant.
type CallFunc func(ctx context.Context, args ...any) (any, error)

// EventFilter classifies a raw connection event. A nil filter accepts every
// event.
type EventFilter func(event string, args ...any) bool

func (f EventFilter) match(event string, args []any) bool {
	if f == nil {
		return true
	}
	return f(event, args...)
}

// Endpoint is a registered request target: either a CallableEndpoint or a
// ConnectionEndpoint.
type Endpoint interface {
	EndpointName() string
	endpoint()
}

// CallableEndpoint answers requests by calling Fn directly.
type CallableEndpoint struct {
	Name string
	Fn   CallFunc
}

func (e CallableEndpoint) EndpointName() string { return e.Name }
func (CallableEndpoint) endpoint()              {}

// ConnectionEndpoint emits EventName on the connection registered under
// ConnectionKey and classifies the events that come back.
//
// Raw events named EventName, or any of ReplyEvents, trigger the endpoint.
// Success and Error are applied independently, so an event accepted by both
// publishes both outcomes. Bind at most one endpoint to a given connection
// and event pair: the endpoints would compete for the same pending requests.
type ConnectionEndpoint struct {
	Name          string
	ConnectionKey string
	EventName     string
	ReplyEvents   []string
	Success       EventFilter
	Error         EventFilter
}

func (e ConnectionEndpoint) EndpointName() string { return e.Name }
func (ConnectionEndpoint) endpoint()              {}

func (e ConnectionEndpoint) triggeredBy(event string) bool {
	return event == e.EventName || slices.Contains(e.ReplyEvents, event)
}

// EndpointInfo describes a registered endpoint for introspection.
type EndpointInfo struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	ConnectionKey string         `json:"connection_key,omitempty"`
	EventName     string         `json:"event_name,omitempty"`
	ReplyEvents   []string       `json:"reply_events,omitempty"`
	Stats         *EndpointStats `json:"stats,omitempty"`
}

const (
	endpointKindCallable   = "callable"
	endpointKindConnection = "connection"
)

func endpointKind(ep Endpoint) string {
	if _, ok := ep.(ConnectionEndpoint); ok {
		return endpointKindConnection
	}
	return endpointKindCallable
}

func describeEndpoint(ep Endpoint) EndpointInfo {
	info := EndpointInfo{Name: ep.EndpointName(), Kind: endpointKind(ep)}
	if conn, ok := ep.(ConnectionEndpoint); ok {
		info.ConnectionKey = conn.ConnectionKey
		info.EventName = conn.EventName
		info.ReplyEvents = slices.Clone(conn.ReplyEvents)
	}
	return info
}
