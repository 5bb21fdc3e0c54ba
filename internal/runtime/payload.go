package runtime

import (
	"encoding/json"
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	"github.com/drblury/callflow/internal/runtime/jsoncodec"
)

// ErrorSuffix marks the error variant of an endpoint's message kind.
const ErrorSuffix = "_error"

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// RemoteError is the failure value of Await and Request when the error
// variant of an endpoint resolves first.
type RemoteError = errspkg.RemoteError

// Payload is the JSON body of a broadcast message. Connection endpoints carry
// the JSON array of the raw event arguments; callable endpoints carry the
// encoded result.
type Payload []byte

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if len(p) == 0 {
		return fmt.Errorf("decode payload: empty")
	}
	return jsoncodec.Unmarshal(p, v)
}

// DecodeProto unmarshals a protojson payload into msg. Unknown fields are
// ignored.
func (p Payload) DecodeProto(msg proto.Message) error {
	if msg == nil {
		return fmt.Errorf("decode payload: nil proto message")
	}
	return protoJSONUnmarshalOptions.Unmarshal(p, msg)
}

// Args splits the payload into generic values. A payload that is not a JSON
// array yields a single element.
func (p Payload) Args() ([]any, error) {
	raw, err := jsoncodec.UnmarshalArgs(p)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(raw))
	for i, r := range raw {
		if err := jsoncodec.Unmarshal(r, &args[i]); err != nil {
			return nil, fmt.Errorf("decode argument %d: %w", i, err)
		}
	}
	return args, nil
}

func (p Payload) String() string { return string(p) }

// Message is what travels on the broadcast channel.
type Message struct {
	Kind           string
	CorrelationIDs []string
	Payload        Payload
}

// Has reports whether id is one of the message's correlation ids.
func (m Message) Has(id string) bool {
	return slices.Contains(m.CorrelationIDs, id)
}

// IsError reports whether the message is the error variant of endpoint.
func (m Message) IsError(endpoint string) bool {
	return m.Kind == endpoint+ErrorSuffix
}

func errorKind(endpoint string) string {
	return endpoint + ErrorSuffix
}

// encodePayload turns a callable result into a payload. Raw JSON is kept as
// is and proto messages go through protojson.
func encodePayload(v any) (Payload, error) {
	switch value := v.(type) {
	case Payload:
		return value, nil
	case json.RawMessage:
		return Payload(value), nil
	case proto.Message:
		data, err := protoJSONMarshalOptions.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proto result: %w", err)
		}
		return data, nil
	default:
		data, err := jsoncodec.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return data, nil
	}
}

func errorPayload(err error) Payload {
	data, marshalErr := jsoncodec.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return Payload(`{"error":"unencodable error"}`)
	}
	return data
}

func remoteErrorFrom(endpoint string, msg Message) *RemoteError {
	return &RemoteError{
		Endpoint:       endpoint,
		CorrelationIDs: slices.Clone(msg.CorrelationIDs),
		Payload:        slices.Clone(msg.Payload),
	}
}
