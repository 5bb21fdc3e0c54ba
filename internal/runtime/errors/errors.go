package errors

import (
	sterrors "errors"
	"fmt"
	"strings"

	"github.com/drblury/callflow/internal/runtime/jsoncodec"
)

var (
	ErrUnknownManager       = sterrors.New("callflow: unknown connection manager")
	ErrUnknownConnection    = sterrors.New("callflow: unknown connection")
	ErrUnknownEndpoint      = sterrors.New("callflow: unknown endpoint")
	ErrDuplicateEndpoint    = sterrors.New("callflow: endpoint already registered")
	ErrDuplicateManager     = sterrors.New("callflow: connection manager already registered")
	ErrDuplicateConnection  = sterrors.New("callflow: connection already registered")
	ErrEndpointNameRequired = sterrors.New("callflow: endpoint name is required")
	ErrCallableRequired     = sterrors.New("callflow: endpoint function is required")
	ErrHandlerRequired      = sterrors.New("callflow: handler is required")
	ErrEventNameRequired    = sterrors.New("callflow: endpoint event name is required")
	ErrClientRequired       = sterrors.New("callflow: transport client is required")
	ErrCorrelatorClosed     = sterrors.New("callflow: correlator is closed")
	ErrConfigRequired       = sterrors.New("callflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("callflow: logger is required")
	ErrRemote               = sterrors.New("callflow: remote error")
)

// UnknownManagerError reports a connection registered against a manager key
// that was never registered.
type UnknownManagerError struct {
	Key string
}

func (e *UnknownManagerError) Error() string {
	return fmt.Sprintf("callflow: no manager registered at key %s", e.Key)
}

func (e *UnknownManagerError) Unwrap() error { return ErrUnknownManager }

// UnknownConnectionError reports an endpoint bound to a connection key that
// was never registered.
type UnknownConnectionError struct {
	Key string
}

func (e *UnknownConnectionError) Error() string {
	return fmt.Sprintf("callflow: no connection registered at key %s", e.Key)
}

func (e *UnknownConnectionError) Unwrap() error { return ErrUnknownConnection }

// UnknownEndpointError is returned by Send and Await for unregistered names.
type UnknownEndpointError struct {
	Name string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("callflow: no endpoint registered at key %s", e.Name)
}

func (e *UnknownEndpointError) Unwrap() error { return ErrUnknownEndpoint }

// DuplicateEndpointError is returned when an endpoint name is registered twice.
type DuplicateEndpointError struct {
	Name string
}

func (e *DuplicateEndpointError) Error() string {
	return fmt.Sprintf("callflow: %s endpoint already registered", e.Name)
}

func (e *DuplicateEndpointError) Unwrap() error { return ErrDuplicateEndpoint }

// RemoteError is the failure value of Await and Request when an endpoint's
// error variant resolves first. Payload is the raw JSON that was published.
type RemoteError struct {
	Endpoint       string
	CorrelationIDs []string
	Payload        []byte
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("callflow: ")
	b.WriteString(e.Endpoint)
	b.WriteString(" failed")
	if msg := e.Message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// Message returns the "error" field of an object payload, or the raw payload
// text otherwise.
func (e *RemoteError) Message() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := jsoncodec.Unmarshal(e.Payload, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(e.Payload)
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "callflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
