package connection

import (
	"fmt"

	"github.com/code3hr/cyxnet/crypto"
)

// DataPayload frames application bytes between connected peers. The
// sender ID lets the receiver attribute the payload regardless of the
// path it arrived on. Wire format: [sender(32)][payload].
type DataPayload struct {
	Sender  crypto.PeerID
	Payload []byte
}

// Serialize encodes the payload for the wire.
func (p *DataPayload) Serialize() []byte {
	data := make([]byte, crypto.PeerIDSize+len(p.Payload))
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	copy(data[crypto.PeerIDSize:], p.Payload)
	return data
}

// ParseDataPayload decodes a data packet body. An empty payload is
// legal; only a missing sender prefix is not.
func ParseDataPayload(data []byte) (*DataPayload, error) {
	if len(data) < crypto.PeerIDSize {
		return nil, fmt.Errorf("data payload too short: %d bytes", len(data))
	}

	payload := &DataPayload{}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	if len(data) > crypto.PeerIDSize {
		payload.Payload = make([]byte, len(data)-crypto.PeerIDSize)
		copy(payload.Payload, data[crypto.PeerIDSize:])
	}
	return payload, nil
}
