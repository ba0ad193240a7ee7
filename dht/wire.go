package dht

import (
	"errors"
	"fmt"
	"net"

	"github.com/multiformats/go-varint"

	"github.com/code3hr/cyxnet/crypto"
)

// nodeEntrySize is the wire width of one node entry: peer ID (32),
// IPv6 or v4-mapped address (16), port (2).
const nodeEntrySize = crypto.PeerIDSize + 16 + 2

// maxWireValueSize bounds the value field of store and retrieve
// packets. Records in this network are small signed blobs.
const maxWireValueSize = 4096

var (
	errPayloadTooShort = errors.New("payload too short")
	errValueTooLarge   = errors.New("value exceeds wire limit")
)

// GetNodesPayload asks the receiver for its closest nodes to Target.
// Wire format: [sender(32)][target(32)].
type GetNodesPayload struct {
	Sender crypto.PeerID
	Target crypto.PeerID
}

func (p *GetNodesPayload) Serialize() []byte {
	data := make([]byte, 2*crypto.PeerIDSize)
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	copy(data[crypto.PeerIDSize:], p.Target[:])
	return data
}

func ParseGetNodesPayload(data []byte) (*GetNodesPayload, error) {
	if len(data) < 2*crypto.PeerIDSize {
		return nil, fmt.Errorf("get_nodes: %w", errPayloadTooShort)
	}
	payload := &GetNodesPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	copy(payload.Target[:], data[crypto.PeerIDSize:2*crypto.PeerIDSize])
	return payload, nil
}

// NodeEntry is one node in a send_nodes response.
type NodeEntry struct {
	ID   crypto.PeerID
	Addr *net.UDPAddr
}

// SendNodesPayload answers a get_nodes request.
// Wire format: [sender(32)][count(1)][entries(50 each)].
type SendNodesPayload struct {
	Sender crypto.PeerID
	Nodes  []NodeEntry
}

func (p *SendNodesPayload) Serialize() []byte {
	data := make([]byte, crypto.PeerIDSize+1+len(p.Nodes)*nodeEntrySize)
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	data[crypto.PeerIDSize] = byte(len(p.Nodes))

	offset := crypto.PeerIDSize + 1
	for _, entry := range p.Nodes {
		offset = encodeNodeEntry(data, offset, entry)
	}
	return data
}

// encodeNodeEntry writes one entry at offset and returns the next
// offset. The address is stored as 16 bytes, IPv4 in v4-mapped form.
func encodeNodeEntry(data []byte, offset int, entry NodeEntry) int {
	copy(data[offset:offset+crypto.PeerIDSize], entry.ID[:])
	offset += crypto.PeerIDSize

	if entry.Addr != nil {
		copy(data[offset:offset+16], entry.Addr.IP.To16())
	}
	offset += 16

	var port uint16
	if entry.Addr != nil {
		port = uint16(entry.Addr.Port)
	}
	data[offset] = byte(port >> 8)
	data[offset+1] = byte(port & 0xff)
	return offset + 2
}

func ParseSendNodesPayload(data []byte) (*SendNodesPayload, error) {
	if len(data) < crypto.PeerIDSize+1 {
		return nil, fmt.Errorf("send_nodes: %w", errPayloadTooShort)
	}

	payload := &SendNodesPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])

	count := int(data[crypto.PeerIDSize])
	offset := crypto.PeerIDSize + 1
	if len(data) < offset+count*nodeEntrySize {
		return nil, errors.New("send_nodes: truncated node entries")
	}

	payload.Nodes = make([]NodeEntry, 0, count)
	for i := 0; i < count; i++ {
		entry, next := decodeNodeEntry(data, offset)
		payload.Nodes = append(payload.Nodes, entry)
		offset = next
	}
	return payload, nil
}

func decodeNodeEntry(data []byte, offset int) (NodeEntry, int) {
	var entry NodeEntry
	copy(entry.ID[:], data[offset:offset+crypto.PeerIDSize])
	offset += crypto.PeerIDSize

	ip := make(net.IP, 16)
	copy(ip, data[offset:offset+16])
	offset += 16

	port := int(data[offset])<<8 | int(data[offset+1])
	offset += 2

	entry.Addr = &net.UDPAddr{IP: ip, Port: port}
	return entry, offset
}

// PingPayload carries the sender's peer ID; responses echo it back.
// Wire format: [sender(32)].
type PingPayload struct {
	Sender crypto.PeerID
}

func (p *PingPayload) Serialize() []byte {
	data := make([]byte, crypto.PeerIDSize)
	copy(data, p.Sender[:])
	return data
}

func ParsePingPayload(data []byte) (*PingPayload, error) {
	if len(data) < crypto.PeerIDSize {
		return nil, fmt.Errorf("ping: %w", errPayloadTooShort)
	}
	payload := &PingPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	return payload, nil
}

// StoreRequestPayload asks the receiver to hold a key/value record.
// Wire format: [sender(32)][key(32)][value_len uvarint][value].
type StoreRequestPayload struct {
	Sender crypto.PeerID
	Key    [32]byte
	Value  []byte
}

func (p *StoreRequestPayload) Serialize() ([]byte, error) {
	if len(p.Value) > maxWireValueSize {
		return nil, errValueTooLarge
	}

	lenBytes := varint.ToUvarint(uint64(len(p.Value)))
	data := make([]byte, 0, crypto.PeerIDSize+32+len(lenBytes)+len(p.Value))
	data = append(data, p.Sender[:]...)
	data = append(data, p.Key[:]...)
	data = append(data, lenBytes...)
	data = append(data, p.Value...)
	return data, nil
}

func ParseStoreRequestPayload(data []byte) (*StoreRequestPayload, error) {
	if len(data) < crypto.PeerIDSize+32+1 {
		return nil, fmt.Errorf("store_request: %w", errPayloadTooShort)
	}

	payload := &StoreRequestPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	copy(payload.Key[:], data[crypto.PeerIDSize:crypto.PeerIDSize+32])

	rest := data[crypto.PeerIDSize+32:]
	valueLen, n, err := varint.FromUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("store_request: bad value length: %w", err)
	}
	if valueLen > maxWireValueSize {
		return nil, errValueTooLarge
	}
	rest = rest[n:]
	if uint64(len(rest)) < valueLen {
		return nil, errors.New("store_request: truncated value")
	}

	payload.Value = make([]byte, valueLen)
	copy(payload.Value, rest[:valueLen])
	return payload, nil
}

// StoreResponsePayload acknowledges a store request.
// Wire format: [sender(32)][key(32)][accepted(1)].
type StoreResponsePayload struct {
	Sender   crypto.PeerID
	Key      [32]byte
	Accepted bool
}

func (p *StoreResponsePayload) Serialize() []byte {
	data := make([]byte, crypto.PeerIDSize+32+1)
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	copy(data[crypto.PeerIDSize:crypto.PeerIDSize+32], p.Key[:])
	if p.Accepted {
		data[crypto.PeerIDSize+32] = 1
	}
	return data
}

func ParseStoreResponsePayload(data []byte) (*StoreResponsePayload, error) {
	if len(data) < crypto.PeerIDSize+32+1 {
		return nil, fmt.Errorf("store_response: %w", errPayloadTooShort)
	}
	payload := &StoreResponsePayload{
		Accepted: data[crypto.PeerIDSize+32] == 1,
	}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	copy(payload.Key[:], data[crypto.PeerIDSize:crypto.PeerIDSize+32])
	return payload, nil
}

// RetrieveRequestPayload asks the receiver for the value it holds under
// a key. Wire format: [sender(32)][key(32)].
type RetrieveRequestPayload struct {
	Sender crypto.PeerID
	Key    [32]byte
}

func (p *RetrieveRequestPayload) Serialize() []byte {
	data := make([]byte, crypto.PeerIDSize+32)
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	copy(data[crypto.PeerIDSize:], p.Key[:])
	return data
}

func ParseRetrieveRequestPayload(data []byte) (*RetrieveRequestPayload, error) {
	if len(data) < crypto.PeerIDSize+32 {
		return nil, fmt.Errorf("retrieve_request: %w", errPayloadTooShort)
	}
	payload := &RetrieveRequestPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	copy(payload.Key[:], data[crypto.PeerIDSize:crypto.PeerIDSize+32])
	return payload, nil
}

// RetrieveResponsePayload answers a retrieve request. Found reports
// whether the responder held the key.
// Wire format: [sender(32)][key(32)][found(1)][value_len uvarint][value].
type RetrieveResponsePayload struct {
	Sender crypto.PeerID
	Key    [32]byte
	Found  bool
	Value  []byte
}

func (p *RetrieveResponsePayload) Serialize() ([]byte, error) {
	if len(p.Value) > maxWireValueSize {
		return nil, errValueTooLarge
	}

	lenBytes := varint.ToUvarint(uint64(len(p.Value)))
	data := make([]byte, 0, crypto.PeerIDSize+32+1+len(lenBytes)+len(p.Value))
	data = append(data, p.Sender[:]...)
	data = append(data, p.Key[:]...)
	if p.Found {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	data = append(data, lenBytes...)
	data = append(data, p.Value...)
	return data, nil
}

func ParseRetrieveResponsePayload(data []byte) (*RetrieveResponsePayload, error) {
	if len(data) < crypto.PeerIDSize+32+2 {
		return nil, fmt.Errorf("retrieve_response: %w", errPayloadTooShort)
	}

	payload := &RetrieveResponsePayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	copy(payload.Key[:], data[crypto.PeerIDSize:crypto.PeerIDSize+32])
	payload.Found = data[crypto.PeerIDSize+32] == 1

	rest := data[crypto.PeerIDSize+32+1:]
	valueLen, n, err := varint.FromUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("retrieve_response: bad value length: %w", err)
	}
	if valueLen > maxWireValueSize {
		return nil, errValueTooLarge
	}
	rest = rest[n:]
	if uint64(len(rest)) < valueLen {
		return nil, errors.New("retrieve_response: truncated value")
	}

	payload.Value = make([]byte, valueLen)
	copy(payload.Value, rest[:valueLen])
	return payload, nil
}
