package names

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/code3hr/cyxnet/crypto"
)

var errPayloadTooShort = errors.New("payload too short")

// AnnouncePayload carries a name record through gossip. Hops is the
// remaining forward budget; a forwarder decrements it and stops at
// zero, which keeps propagation gossip rather than flooding.
// Wire format: [sender(32)][hops(1)][record].
type AnnouncePayload struct {
	Sender crypto.PeerID
	Hops   uint8
	Record *NameRecord
}

func (p *AnnouncePayload) Serialize() ([]byte, error) {
	record, err := p.Record.Marshal()
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, crypto.PeerIDSize+1+len(record))
	data = append(data, p.Sender[:]...)
	data = append(data, p.Hops)
	data = append(data, record...)
	return data, nil
}

func ParseAnnouncePayload(data []byte) (*AnnouncePayload, error) {
	if len(data) < crypto.PeerIDSize+1 {
		return nil, fmt.Errorf("name_announce: %w", errPayloadTooShort)
	}
	payload := &AnnouncePayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	payload.Hops = data[crypto.PeerIDSize]

	record, _, err := UnmarshalNameRecord(data[crypto.PeerIDSize+1:])
	if err != nil {
		return nil, fmt.Errorf("name_announce: %w", err)
	}
	payload.Record = record
	return payload, nil
}

// QueryPayload asks the network who holds a name.
// Wire format: [sender(32)][nameLen varint][name].
type QueryPayload struct {
	Sender crypto.PeerID
	Name   string
}

func (p *QueryPayload) Serialize() ([]byte, error) {
	if len(p.Name) == 0 || len(p.Name) > MaxNameLength {
		return nil, errRecordMalformed
	}
	data := make([]byte, 0, crypto.PeerIDSize+2+len(p.Name))
	data = append(data, p.Sender[:]...)
	data = append(data, varint.ToUvarint(uint64(len(p.Name)))...)
	data = append(data, p.Name...)
	return data, nil
}

func ParseQueryPayload(data []byte) (*QueryPayload, error) {
	if len(data) < crypto.PeerIDSize+2 {
		return nil, fmt.Errorf("name_query: %w", errPayloadTooShort)
	}
	payload := &QueryPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])

	rest := data[crypto.PeerIDSize:]
	nameLen, n, err := varint.FromUvarint(rest)
	if err != nil || nameLen == 0 || nameLen > MaxNameLength {
		return nil, fmt.Errorf("name_query: %w", errRecordMalformed)
	}
	if len(rest) < n+int(nameLen) {
		return nil, fmt.Errorf("name_query: %w", errPayloadTooShort)
	}
	payload.Name = string(rest[n : n+int(nameLen)])
	return payload, nil
}

// ResponsePayload answers a query with the record the responder holds.
// Responses travel directly back to the querier, so they carry no hop
// budget. Wire format: [sender(32)][record].
type ResponsePayload struct {
	Sender crypto.PeerID
	Record *NameRecord
}

func (p *ResponsePayload) Serialize() ([]byte, error) {
	record, err := p.Record.Marshal()
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, crypto.PeerIDSize+len(record))
	data = append(data, p.Sender[:]...)
	data = append(data, record...)
	return data, nil
}

func ParseResponsePayload(data []byte) (*ResponsePayload, error) {
	if len(data) < crypto.PeerIDSize+1 {
		return nil, fmt.Errorf("name_response: %w", errPayloadTooShort)
	}
	payload := &ResponsePayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])

	record, _, err := UnmarshalNameRecord(data[crypto.PeerIDSize:])
	if err != nil {
		return nil, fmt.Errorf("name_response: %w", err)
	}
	payload.Record = record
	return payload, nil
}

// RevokePayload retracts a registration. The embedded record carries
// the revocation time in RegisteredAt; observers honor it as a
// tombstone when it is at least as fresh as their cached entry.
// Wire format: [sender(32)][hops(1)][record].
type RevokePayload struct {
	Sender crypto.PeerID
	Hops   uint8
	Record *NameRecord
}

func (p *RevokePayload) Serialize() ([]byte, error) {
	record, err := p.Record.Marshal()
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, crypto.PeerIDSize+1+len(record))
	data = append(data, p.Sender[:]...)
	data = append(data, p.Hops)
	data = append(data, record...)
	return data, nil
}

func ParseRevokePayload(data []byte) (*RevokePayload, error) {
	if len(data) < crypto.PeerIDSize+1 {
		return nil, fmt.Errorf("name_revoke: %w", errPayloadTooShort)
	}
	payload := &RevokePayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	payload.Hops = data[crypto.PeerIDSize]

	record, _, err := UnmarshalNameRecord(data[crypto.PeerIDSize+1:])
	if err != nil {
		return nil, fmt.Errorf("name_revoke: %w", err)
	}
	payload.Record = record
	return payload, nil
}
