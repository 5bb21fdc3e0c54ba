package callflow

import (
	"context"

	runtimepkg "github.com/drblury/callflow/internal/runtime"
	configpkg "github.com/drblury/callflow/internal/runtime/config"
	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	idspkg "github.com/drblury/callflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/callflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	"github.com/drblury/callflow/transport"
)

type (
	Config           = configpkg.Config
	ManagerConfig    = configpkg.ManagerConfig
	ConnectionConfig = configpkg.ConnectionConfig
	EndpointConfig   = configpkg.EndpointConfig

	Correlator         = runtimepkg.Correlator
	Dependencies       = runtimepkg.Dependencies
	Scheduler          = runtimepkg.Scheduler
	SchedulerFunc      = runtimepkg.SchedulerFunc
	GoroutineScheduler = runtimepkg.GoroutineScheduler

	CallFunc           = runtimepkg.CallFunc
	EventFilter        = runtimepkg.EventFilter
	Endpoint           = runtimepkg.Endpoint
	CallableEndpoint   = runtimepkg.CallableEndpoint
	ConnectionEndpoint = runtimepkg.ConnectionEndpoint
	EndpointInfo       = runtimepkg.EndpointInfo
	ConnectionInfo     = runtimepkg.ConnectionInfo
	Subscription       = runtimepkg.Subscription

	Payload        = runtimepkg.Payload
	Message        = runtimepkg.Message
	Pending        = runtimepkg.Pending
	SuccessHandler = runtimepkg.SuccessHandler
	ErrorHandler   = runtimepkg.ErrorHandler

	ManagerParams    = runtimepkg.ManagerParams
	ManagerEvent     = runtimepkg.ManagerEvent
	ManagerHooks     = runtimepkg.ManagerHooks
	ConnectionEvent  = runtimepkg.ConnectionEvent
	ConnectionHooks  = runtimepkg.ConnectionHooks
	DeclarativeHooks = runtimepkg.DeclarativeHooks

	// Callable lifecycle hooks
	CallContext = runtimepkg.CallContext
	CallHooks   = runtimepkg.CallHooks

	Metrics           = runtimepkg.Metrics
	EndpointStats     = runtimepkg.EndpointStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics
	ResourceUsage     = runtimepkg.ResourceUsage

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	RemoteError            = errspkg.RemoteError
	UnknownManagerError    = errspkg.UnknownManagerError
	UnknownConnectionError = errspkg.UnknownConnectionError
	UnknownEndpointError   = errspkg.UnknownEndpointError
	DuplicateEndpointError = errspkg.DuplicateEndpointError
	ConfigValidationError  = errspkg.ConfigValidationError

	// Transport contract
	TransportClient     = transport.Client
	TransportClientFunc = transport.ClientFunc
	TransportManager    = transport.Manager
	TransportConnection = transport.Connection
	TransportOptions    = transport.Options
	TransportAuth       = transport.Auth
	TransportSignal     = transport.Signal
)

var (
	New            = runtimepkg.New
	LoadConfig     = configpkg.LoadFile
	ValidateConfig = configpkg.ValidateConfig
	CompileFilter  = runtimepkg.CompileFilter
	NewMetrics     = runtimepkg.NewMetrics

	NewGoroutineScheduler = runtimepkg.NewGoroutineScheduler

	// Callable lifecycle hooks
	LoggingCallHooks  = runtimepkg.LoggingCallHooks
	MetricsCallHooks  = runtimepkg.MetricsCallHooks
	AlertingCallHooks = runtimepkg.AlertingCallHooks

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrUnknownManager       = errspkg.ErrUnknownManager
	ErrUnknownConnection    = errspkg.ErrUnknownConnection
	ErrUnknownEndpoint      = errspkg.ErrUnknownEndpoint
	ErrDuplicateEndpoint    = errspkg.ErrDuplicateEndpoint
	ErrDuplicateManager     = errspkg.ErrDuplicateManager
	ErrDuplicateConnection  = errspkg.ErrDuplicateConnection
	ErrEndpointNameRequired = errspkg.ErrEndpointNameRequired
	ErrCallableRequired     = errspkg.ErrCallableRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrEventNameRequired    = errspkg.ErrEventNameRequired
	ErrClientRequired       = errspkg.ErrClientRequired
	ErrCorrelatorClosed     = errspkg.ErrCorrelatorClosed
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrRemote               = errspkg.ErrRemote

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewZerologServiceLogger   = loggingpkg.NewZerologServiceLogger
	NewWriterLogger           = loggingpkg.NewWriterLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	// NewCorrelationID generates a ULID suitable for Send.
	NewCorrelationID = idspkg.New
)

// Event names and signals shared by every transport.
const (
	ErrorSuffix = runtimepkg.ErrorSuffix

	EventConnect    = transport.EventConnect
	EventDisconnect = transport.EventDisconnect
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// AwaitAs waits like Correlator.Await and decodes the payload into T.
func AwaitAs[T any](ctx context.Context, c *Correlator, endpoint, correlationID string) (T, error) {
	var out T
	payload, err := c.Await(ctx, endpoint, correlationID)
	if err != nil {
		return out, err
	}
	err = payload.Decode(&out)
	return out, err
}

// RequestAs is Correlator.Request with the payload decoded into T.
func RequestAs[T any](ctx context.Context, c *Correlator, endpoint string, args ...any) (T, error) {
	var out T
	payload, err := c.Request(ctx, endpoint, args...)
	if err != nil {
		return out, err
	}
	err = payload.Decode(&out)
	return out, err
}
