package wireflow

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	bridgepkg "github.com/drblury/wireflow/internal/bridge"
	codecpkg "github.com/drblury/wireflow/internal/bridge/codec"
	configpkg "github.com/drblury/wireflow/internal/bridge/config"
	contractpkg "github.com/drblury/wireflow/internal/bridge/contract"
	diagpkg "github.com/drblury/wireflow/internal/bridge/diag"
	envelopepkg "github.com/drblury/wireflow/internal/bridge/envelope"
	errspkg "github.com/drblury/wireflow/internal/bridge/errors"
	idspkg "github.com/drblury/wireflow/internal/bridge/ids"
	loggingpkg "github.com/drblury/wireflow/internal/bridge/logging"
	metricspkg "github.com/drblury/wireflow/internal/bridge/metrics"
	transportpkg "github.com/drblury/wireflow/transport"
	linkpkg "github.com/drblury/wireflow/transport/link"
	"google.golang.org/protobuf/proto"
)

type (
	Config = configpkg.Config

	// Contract definition
	Contract   = contractpkg.Contract
	MethodSpec = contractpkg.MethodSpec
	EventSpec  = contractpkg.EventSpec
	NoError    = contractpkg.NoError

	Method[Req, Res any, E error] = contractpkg.Method[Req, Res, E]
	Event[P any]                  = contractpkg.Event[P]
	Codec[T any]                  = codecpkg.Codec[T]
	CodecError                    = codecpkg.Error
	MessageValidator              = codecpkg.MessageValidator

	// Serving side
	Endpoint        = bridgepkg.Endpoint
	EndpointOptions = bridgepkg.EndpointOptions
	Implementation  = bridgepkg.Implementation

	// Calling side
	Client        = bridgepkg.Client
	ClientOptions = bridgepkg.ClientOptions
	DecodeMode    = bridgepkg.DecodeMode

	// Event side
	Publisher        = bridgepkg.Publisher
	PublisherOptions = bridgepkg.PublisherOptions
	SubscribeOptions = bridgepkg.SubscribeOptions
	QueueStats       = bridgepkg.QueueStats

	// Wire format
	Envelope     = envelopepkg.Envelope
	EnvelopeKind = envelopepkg.Kind
	Tagged       = envelopepkg.Tagged

	// Diagnostics hooks
	Hooks           = diagpkg.Hooks
	DecodeFailure   = diagpkg.DecodeFailure
	ProtocolError   = diagpkg.ProtocolError
	EventDrop       = diagpkg.EventDrop
	DispatchFailure = diagpkg.DispatchFailure
	DecodeScope     = diagpkg.DecodeScope
	DropReason      = diagpkg.DropReason

	// Error surface
	CallError             = errspkg.CallError
	Stage                 = errspkg.Stage
	ConfigValidationError = errspkg.ConfigValidationError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Metrics         = metricspkg.Metrics
	MethodMetrics   = metricspkg.MethodMetrics
	MetricsSnapshot = metricspkg.Snapshot

	// Transport contracts
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	Listener              = transportpkg.Listener
	Registrar             = transportpkg.Registrar
	Invoker               = transportpkg.Invoker
	Target                = transportpkg.Target
	EventSource           = transportpkg.EventSource
	Requester             = transportpkg.Requester
	QueueIntrospector     = transportpkg.QueueIntrospector
	DLQManager            = transportpkg.DLQManager
	DLQLister             = transportpkg.DLQLister
	DLQMessage            = transportpkg.DLQMessage

	// Reply-topic correlation over a publish/subscribe pair
	Link        = linkpkg.Link
	LinkOptions = linkpkg.Options
)

var (
	NewContract    = contractpkg.New
	NewEndpoint    = bridgepkg.NewEndpoint
	NewClient      = bridgepkg.NewClient
	NewPublisher   = bridgepkg.NewPublisher
	NewLink        = linkpkg.New
	ValidateConfig = configpkg.ValidateConfig

	// Envelope construction and parsing
	ParseEnvelope     = envelopepkg.Parse
	ParseLegacyResult = envelopepkg.ParseLegacy
	SuccessEnvelope   = envelopepkg.Success
	FailureEnvelope   = envelopepkg.Failure
	DefectEnvelope    = envelopepkg.Defect

	// Pre-built diagnostics hooks
	LoggingHooks  = diagpkg.LoggingHooks
	MetricsHooks  = diagpkg.MetricsHooks
	AlertingHooks = diagpkg.AlertingHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopLogger                 = loggingpkg.Nop

	NewMetrics = metricspkg.New

	Marshal       = codecpkg.Marshal
	MarshalIndent = codecpkg.MarshalIndent
	Unmarshal     = codecpkg.Unmarshal
	Encode        = codecpkg.Encode
	Decode        = codecpkg.Decode

	CreateULID       = idspkg.CreateULID
	NewCorrelationID = idspkg.NewCorrelationID
	NewInboxID       = idspkg.NewInboxID

	NewCallError = errspkg.NewCallError

	ErrContractRequired  = errspkg.ErrContractRequired
	ErrRegistrarRequired = errspkg.ErrRegistrarRequired
	ErrInvokeRequired    = errspkg.ErrInvokeRequired
	ErrTargetRequired    = errspkg.ErrTargetRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrSourceRequired    = errspkg.ErrSourceRequired
	ErrDisposed          = errspkg.ErrDisposed
	ErrInvalidQueueSize  = errspkg.ErrInvalidQueueSize

	ErrMissingImplementation   = errspkg.ErrMissingImplementation
	ErrDuplicateImplementation = errspkg.ErrDuplicateImplementation
	ErrUnknownImplementation   = errspkg.ErrUnknownImplementation
	ErrUnknownMethod           = errspkg.ErrUnknownMethod
	ErrUnknownEvent            = errspkg.ErrUnknownEvent

	// Transport registry.
	// Import individual transports for their side effects, e.g.
	// _ "github.com/drblury/wireflow/transport/kafka", or pull in all of
	// them with the transport/transports package.
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetTransportCapabilities = transportpkg.GetCapabilities
)

// Channel-name prefixes used when the options carry none. Both processes
// must agree on the prefixes; nothing negotiates them at runtime.
const (
	DefaultCallPrefix  = configpkg.DefaultCallPrefix
	DefaultEventPrefix = configpkg.DefaultEventPrefix
)

// DefaultQueueSize is the publisher queue capacity used when none is
// configured.
const DefaultQueueSize = configpkg.DefaultQueueSize

// Reply decode modes for ClientOptions.DecodeMode.
const (
	DecodeEnvelope = bridgepkg.DecodeEnvelope
	DecodeDual     = bridgepkg.DecodeDual
)

// Call failure stages, as carried by CallError.Stage. Probe with
// errors.Is(err, &CallError{Stage: StageInvoke}).
const (
	StageRequestEncoding  = errspkg.StageRequestEncoding
	StageInvoke           = errspkg.StageInvoke
	StageInvalidEnvelope  = errspkg.StageInvalidEnvelope
	StageSuccessDecode    = errspkg.StageSuccessDecode
	StageFailureDecode    = errspkg.StageFailureDecode
	StageNoErrorViolation = errspkg.StageNoErrorViolation
	StageLegacyDecode     = errspkg.StageLegacyDecode
	StageRemoteDefect     = errspkg.StageRemoteDefect
)

// Envelope kinds.
const (
	KindSuccess     = envelopepkg.KindSuccess
	KindFailure     = envelopepkg.KindFailure
	KindDefect      = envelopepkg.KindDefect
	KindInterrupted = envelopepkg.KindInterrupted
)

// DefaultErrorTag is the wire tag used when a failure value carries no
// usable tag of its own.
const DefaultErrorTag = envelopepkg.DefaultErrorTag

// Diagnostic scopes and drop reasons.
const (
	ScopeRPCRequest   = diagpkg.ScopeRPCRequest
	ScopeRPCResponse  = diagpkg.ScopeRPCResponse
	ScopeEventPayload = diagpkg.ScopeEventPayload

	DropQueueFull         = diagpkg.DropQueueFull
	DropEncodingFailed    = diagpkg.DropEncodingFailed
	DropTargetUnavailable = diagpkg.DropTargetUnavailable
	DropDispatchFailed    = diagpkg.DropDispatchFailed
)

// MetadataKeyDelay is read by the SQLite and PostgreSQL transports for
// delayed message processing. Set to a duration string like "30s", "5m",
// "1h".
const MetadataKeyDelay = "wireflow_delay"

// NewMethod defines a request/response method on c with JSON codecs for all
// payload types. Use NoError as E for methods without a domain error channel.
func NewMethod[Req, Res any, E error](c *Contract, name string) Method[Req, Res, E] {
	return contractpkg.NewMethod[Req, Res, E](c, name)
}

func NewMethodWith[Req, Res any, E error](c *Contract, name string, req Codec[Req], res Codec[Res], errCodec Codec[E]) Method[Req, Res, E] {
	return contractpkg.NewMethodWith[Req, Res, E](c, name, req, res, errCodec)
}

// NewEvent defines a push event on c with a JSON payload codec.
func NewEvent[P any](c *Contract, name string) Event[P] {
	return contractpkg.NewEvent[P](c, name)
}

func NewEventWith[P any](c *Contract, name string, payload Codec[P]) Event[P] {
	return contractpkg.NewEventWith[P](c, name, payload)
}

func JSONCodec[T any]() Codec[T] {
	return codecpkg.JSON[T]()
}

func ProtoCodec[M proto.Message]() Codec[M] {
	return codecpkg.Proto[M]()
}

func ProtoCodecValidated[M proto.Message](validator MessageValidator) Codec[M] {
	return codecpkg.ProtoValidated[M](validator)
}

// Handle binds a handler function to a contract method. Pass the returned
// Implementation to NewEndpoint.
func Handle[Req, Res any, E error](m Method[Req, Res, E], fn func(ctx context.Context, req Req) (Res, error)) Implementation {
	return bridgepkg.Handle(m, fn)
}

// Call performs one typed round trip for method m through the client. A
// domain error decoded from a failure reply is returned as the typed value
// itself; every other failure is a *CallError.
func Call[Req, Res any, E error](ctx context.Context, c *Client, m Method[Req, Res, E], req Req) (Res, error) {
	return bridgepkg.Call(ctx, c, m, req)
}

// Publish enqueues one event on the publisher without blocking.
func Publish[P any](p *Publisher, ev Event[P], payload P) error {
	return bridgepkg.Publish(p, ev, payload)
}

// Subscribe consumes ev's channel from source, decoding each payload and
// handing it to fn until ctx is cancelled or the stream closes.
func Subscribe[P any](ctx context.Context, source EventSource, ev Event[P], fn func(ctx context.Context, payload P) error, opts SubscribeOptions) error {
	return bridgepkg.Subscribe(ctx, source, ev, fn, opts)
}

// WithDelay returns message metadata with the wireflow_delay key set for
// delayed message processing on transports that support it.
// Example: msg.Metadata = wireflow.WithDelay(30 * time.Second)
func WithDelay(delay time.Duration) message.Metadata {
	return message.Metadata{MetadataKeyDelay: delay.String()}
}
