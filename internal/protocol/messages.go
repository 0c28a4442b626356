package protocol

import (
	"fmt"
	"time"
)

// Type tags the body of a frame.
type Type byte

const (
	TypeConsumerRegistration Type = iota + 1
	TypePacketRequest
	TypePacket
	TypeEndOfStream
	TypeSourceAnnouncement
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeConsumerRegistration:
		return "consumer_registration"
	case TypePacketRequest:
		return "packet_request"
	case TypePacket:
		return "packet"
	case TypeEndOfStream:
		return "end_of_stream"
	case TypeSourceAnnouncement:
		return "source_announcement"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message is implemented by every frame body.
type Message interface {
	Type() Type
}

// ConsumerRegistration subscribes a downstream runner to an output port.
// Group names the consumer group, normally the downstream brick uid; instances
// of the same brick share one group and split its packets.
type ConsumerRegistration struct {
	BrickInstanceID string `json:"brick_instance_id"`
	Group           string `json:"group,omitempty"`
	Port            string `json:"port"`
}

// PacketRequest asks the upstream Output for up to BatchSize packets.
type PacketRequest struct {
	BatchSize int `json:"batch_size"`
}

// PacketFrame is the wire form of a packet.
type PacketFrame struct {
	ID        string    `json:"id"`
	Payload   any       `json:"payload"`
	Port      string    `json:"port"`
	CreatedAt time.Time `json:"created_at"`
}

// EndOfStream tells the peer that no more packets will follow.
type EndOfStream struct{}

// SourceAnnouncement tells a runner to start pulling from the Output listening
// on Address for the named Port.
type SourceAnnouncement struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

func (ConsumerRegistration) Type() Type { return TypeConsumerRegistration }
func (PacketRequest) Type() Type        { return TypePacketRequest }
func (PacketFrame) Type() Type          { return TypePacket }
func (EndOfStream) Type() Type          { return TypeEndOfStream }
func (SourceAnnouncement) Type() Type   { return TypeSourceAnnouncement }
