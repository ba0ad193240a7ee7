package transport

import (
	"errors"
)

// PacketType identifies the type of a cyxnet control packet.
type PacketType byte

const (
	// DHT packet types
	PacketPingRequest PacketType = iota + 1
	PacketPingResponse
	PacketGetNodes
	PacketSendNodes

	// Hole punching packet types
	PacketPunchRequest
	PacketPunchResponse

	// DHT record storage packet types
	PacketStoreRequest
	PacketStoreResponse
	PacketRetrieveRequest
	PacketRetrieveResponse

	// Gossip name service packet types
	PacketNameAnnounce
	PacketNameQuery
	PacketNameResponse
	PacketNameRevoke

	// Application payload forwarded for a connected peer. The payload
	// is opaque to this layer; encryption happens above us.
	PacketData
)

// Packet represents a single framed cyxnet datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
