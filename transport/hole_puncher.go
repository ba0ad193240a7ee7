package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
)

// punchPayloadSize is the sender peer ID followed by one NAT type byte.
const punchPayloadSize = crypto.PeerIDSize + 1

// PunchPayload is the body of punch request and response packets. It
// carries enough for the receiver to learn who is knocking and what kind
// of NAT the knock came from.
type PunchPayload struct {
	Sender  crypto.PeerID
	NATType NATType
}

// Serialize encodes the payload for the wire.
func (p *PunchPayload) Serialize() []byte {
	data := make([]byte, punchPayloadSize)
	copy(data[:crypto.PeerIDSize], p.Sender[:])
	data[crypto.PeerIDSize] = byte(p.NATType)
	return data
}

// ParsePunchPayload decodes a punch request or response body.
func ParsePunchPayload(data []byte) (*PunchPayload, error) {
	if len(data) < punchPayloadSize {
		return nil, fmt.Errorf("punch payload too short: %d bytes", len(data))
	}

	payload := &PunchPayload{
		NATType: NATType(data[crypto.PeerIDSize]),
	}
	copy(payload.Sender[:], data[:crypto.PeerIDSize])
	return payload, nil
}

// HolePuncher sends punch probes through the node's own transport so the
// outgoing packets open the same NAT mapping the peer will later target.
// Scheduling and pacing of attempts belong to the caller.
type HolePuncher struct {
	transport Transport
	selfID    crypto.PeerID

	mu      sync.RWMutex
	natType NATType
}

// NewHolePuncher creates a puncher that stamps probes with selfID.
func NewHolePuncher(transport Transport, selfID crypto.PeerID) *HolePuncher {
	return &HolePuncher{
		transport: transport,
		selfID:    selfID,
		natType:   NATTypeUnknown,
	}
}

// SetNATType records the locally discovered NAT type so subsequent
// probes advertise it.
func (hp *HolePuncher) SetNATType(natType NATType) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.natType = natType
}

// NATType returns the NAT type probes currently advertise.
func (hp *HolePuncher) NATType() NATType {
	hp.mu.RLock()
	defer hp.mu.RUnlock()
	return hp.natType
}

// SendPunch fires a single punch request at the peer's candidate
// address. Losing the probe is normal; the caller retries on its own
// schedule.
func (hp *HolePuncher) SendPunch(addr net.Addr) error {
	return hp.sendProbe(PacketPunchRequest, addr)
}

// SendPunchResponse answers a received punch request, confirming to the
// sender that a direct path exists.
func (hp *HolePuncher) SendPunchResponse(addr net.Addr) error {
	return hp.sendProbe(PacketPunchResponse, addr)
}

func (hp *HolePuncher) sendProbe(packetType PacketType, addr net.Addr) error {
	if addr == nil {
		return errors.New("punch target address is nil")
	}

	payload := &PunchPayload{
		Sender:  hp.selfID,
		NATType: hp.NATType(),
	}
	packet := &Packet{
		PacketType: packetType,
		Data:       payload.Serialize(),
	}

	if err := hp.transport.Send(packet, addr); err != nil {
		return fmt.Errorf("failed to send punch probe: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sendProbe",
		"type":     packetType,
		"target":   addr.String(),
	}).Trace("Punch probe sent")

	return nil
}

// CanTraverse reports whether hole punching between the two NAT types
// has a realistic chance. A symmetric NAT assigns a fresh mapping per
// destination, so the far side can only hit it when that side accepts
// packets from unpredicted ports. Everything else is worth attempting.
func CanTraverse(local, remote NATType) bool {
	if local == NATTypeSymmetric {
		return remote == NATTypeNone || remote == NATTypeCone
	}
	if remote == NATTypeSymmetric {
		return local == NATTypeNone || local == NATTypeCone
	}
	return true
}
