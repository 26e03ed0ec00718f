package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc/encoding and selected by clients via
// grpc.CallContentSubtype(codecName). No protoc-generated stubs exist
// in this repository (see DESIGN.md), so the wire messages in core.go
// are plain Go structs marshaled as JSON rather than protobuf.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
