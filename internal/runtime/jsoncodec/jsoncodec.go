package jsoncodec

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

var std = sonic.ConfigStd

var ErrInvalidJSON = errors.New("jsoncodec: invalid JSON document")

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}

// MarshalArgs encodes an event argument list as a JSON array. Arguments that
// are already raw JSON are embedded untouched.
func MarshalArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return std.Marshal(args)
}

// UnmarshalArgs splits a JSON array into its raw elements. A non-array
// document is returned as a single element.
func UnmarshalArgs(data []byte) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := std.Unmarshal(data, &args); err == nil {
		return args, nil
	}
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	return []json.RawMessage{json.RawMessage(data)}, nil
}
