package bridge

import (
	"fmt"
)

// frameCodec is a gRPC codec that moves Frame values directly in protobuf
// wire format. The stream carries nothing else, so no generated message
// types are involved.
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	frame, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("frame codec cannot marshal %T", v)
	}
	return frame.Marshal()
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	frame, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("frame codec cannot unmarshal into %T", v)
	}
	return frame.Unmarshal(data)
}

func (frameCodec) Name() string {
	return "rosbus-frame"
}
