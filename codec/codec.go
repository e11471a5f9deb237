// Package codec registers the JSON codec used by the fault injector's
// gRPC service. Messages are plain Go structs, there is no generated
// protobuf code, so calls select this codec with the content subtype:
//
//	grpc.CallContentSubtype(codec.Name)
//
// Importing the package is enough to make the codec available on both
// the client and the server.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name of the codec, and the gRPC content subtype it is served under.
const Name = "json"

var ErrNilMessage = errors.New("codec: nil message")

func init() {
	encoding.RegisterCodec(JSON{})
}

// JSON implements encoding.Codec.
type JSON struct{}

// Marshal v into bytes.
func (JSON) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrNilMessage
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal byte data into v. An empty payload leaves v at its zero
// value, which is how gRPC delivers a message with no fields set.
func (JSON) Unmarshal(data []byte, v interface{}) error {
	if v == nil {
		return ErrNilMessage
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal %T: %w", v, err)
	}
	return nil
}

func (JSON) Name() string {
	return Name
}
