// Package msgs defines the protobuf messages published by the relay.
package msgs

import (
	"github.com/golang/protobuf/proto"
)

// Advertisement is an unsolicited advertisement received from a device,
// tagged with the gateway which received it.
type Advertisement struct {
	GatewayID  string   `protobuf:"bytes,1,opt,name=gateway_id,proto3" json:"gateway_id,omitempty"`
	MsgID      uint32   `protobuf:"varint,2,opt,name=msg_id,proto3" json:"msg_id,omitempty"`
	Command    uint32   `protobuf:"varint,3,opt,name=command,proto3" json:"command,omitempty"`
	Args       []uint32 `protobuf:"varint,4,rep,packed,name=args,proto3" json:"args,omitempty"`
	Payload    []byte   `protobuf:"bytes,5,opt,name=payload,proto3" json:"payload,omitempty"`
	ReceivedAt int64    `protobuf:"varint,6,opt,name=received_at,proto3" json:"received_at,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Advertisement) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Advertisement) Reset() { *m = Advertisement{} }

// String implements proto.Message.
func (m *Advertisement) String() string { return proto.CompactTextString(m) }

// Encode marshals the message.
func (m *Advertisement) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeAdvertisement unmarshals an Advertisement.
func DecodeAdvertisement(data []byte) (*Advertisement, error) {
	m := &Advertisement{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
