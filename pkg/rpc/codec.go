// Package rpc carries the credmesh.v1.Resolver gRPC service: the wire
// messages, the byte-oriented codec they travel under, the hand-assembled
// service descriptor, and a thin client.
//
// The service is not protobuf-based. Messages frame themselves with the same
// binary layouts the record store uses, and the codec below moves those frames
// through gRPC unchanged.
package rpc

import (
	"encoding"
	"fmt"

	grpcencoding "google.golang.org/grpc/encoding"
)

// Name is the codec name and gRPC content subtype the service is served
// under. Clients must set it as their call content subtype; DialOptions does.
const Name = "credmesh"

func init() {
	grpcencoding.RegisterCodec(codec{})
}

// codec dispatches on the standard binary marshaling interfaces, which every
// message type in this package implements.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("rpc: message type %T cannot be marshaled", v)
	}

	return m.MarshalBinary()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("rpc: message type %T cannot be unmarshaled", v)
	}

	return m.UnmarshalBinary(data)
}

func (codec) Name() string {
	return Name
}
