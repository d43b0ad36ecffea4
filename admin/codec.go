package admin

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // register the default proto codec first
	"google.golang.org/protobuf/proto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	// Replaces the "proto" codec: admin messages are JSON, everything else
	// still goes through proto.Marshal.
	grpcEncoding.RegisterCodec(adminCodec{})
}

type adminCodec struct{}

func (adminCodec) Name() string { return "proto" }

func (adminCodec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(adminMsg); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("admin codec: unsupported message type %T", v)
}

func (adminCodec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(adminMsg); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("admin codec: unsupported message type %T", v)
}
