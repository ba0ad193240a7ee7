package connection

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

type inboundKind uint8

const (
	inboundPunchRequest inboundKind = iota
	inboundPunchResponse
	inboundData
)

// inboundPacket is a parsed connection packet queued for the next
// Poll. Handlers never transition state themselves.
type inboundPacket struct {
	kind    inboundKind
	sender  crypto.PeerID
	natType transport.NATType
	payload []byte
	from    net.Addr
}

// RegisterHandlers wires the manager's packet types into the
// transport. Punch requests are answered inline so the peer's NAT
// mapping stays warm even between polls; everything else waits for
// Poll.
func (m *Manager) RegisterHandlers() {
	m.transport.RegisterHandler(transport.PacketPunchRequest, m.handlePunchRequest)
	m.transport.RegisterHandler(transport.PacketPunchResponse, m.handlePunchResponse)
	m.transport.RegisterHandler(transport.PacketData, m.handleData)
}

// HandleRelayedPacket dispatches a packet delivered through the relay
// as if it had arrived on the transport. The embedding node installs
// it as the relay client's data handler.
func (m *Manager) HandleRelayedPacket(packet *transport.Packet, from net.Addr) error {
	switch packet.PacketType {
	case transport.PacketPunchRequest:
		return m.handlePunchRequest(packet, from)
	case transport.PacketPunchResponse:
		return m.handlePunchResponse(packet, from)
	case transport.PacketData:
		return m.handleData(packet, from)
	default:
		logrus.WithFields(logrus.Fields{
			"function":    "HandleRelayedPacket",
			"packet_type": packet.PacketType,
		}).Trace("Ignoring relayed packet type")
		return nil
	}
}

func (m *Manager) handlePunchRequest(packet *transport.Packet, from net.Addr) error {
	payload, err := transport.ParsePunchPayload(packet.Data)
	if err != nil {
		return err
	}
	if !m.enqueue(&inboundPacket{
		kind:    inboundPunchRequest,
		sender:  payload.Sender,
		natType: payload.NATType,
		from:    from,
	}) {
		return nil
	}
	// Answering here, on the transport goroutine, keeps the round trip
	// short; it opens no session, so no state moves outside Poll.
	if err := m.puncher.SendPunchResponse(from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePunchRequest",
			"from":     from.String(),
			"error":    err.Error(),
		}).Trace("Failed to answer punch request")
	}
	return nil
}

func (m *Manager) handlePunchResponse(packet *transport.Packet, from net.Addr) error {
	payload, err := transport.ParsePunchPayload(packet.Data)
	if err != nil {
		return err
	}
	m.enqueue(&inboundPacket{
		kind:    inboundPunchResponse,
		sender:  payload.Sender,
		natType: payload.NATType,
		from:    from,
	})
	return nil
}

func (m *Manager) handleData(packet *transport.Packet, from net.Addr) error {
	payload, err := ParseDataPayload(packet.Data)
	if err != nil {
		return err
	}
	m.enqueue(&inboundPacket{
		kind:    inboundData,
		sender:  payload.Sender,
		payload: payload.Payload,
		from:    from,
	})
	return nil
}

// enqueue adds the packet to the inbox unless its sender is blocked or
// the inbox is full. It reports whether the packet was accepted.
func (m *Manager) enqueue(packet *inboundPacket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, blocked := m.blocked[packet.sender]; blocked {
		return false
	}
	if len(m.inbox) >= maxInboxSize {
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"kind":     packet.kind,
		}).Trace("Dropping inbound packet, inbox full")
		return false
	}
	m.inbox = append(m.inbox, packet)
	return true
}

// processInboxLocked applies queued inbound packets to the peer
// records.
func (m *Manager) processInboxLocked(now time.Time) {
	inbox := m.inbox
	m.inbox = nil

	for _, packet := range inbox {
		if _, blocked := m.blocked[packet.sender]; blocked {
			continue
		}
		switch packet.kind {
		case inboundPunchRequest:
			m.processPunchRequestLocked(packet, now)
		case inboundPunchResponse:
			m.processPunchResponseLocked(packet, now)
		case inboundData:
			m.processDataLocked(packet, now)
		}
	}
}

// processPunchRequestLocked books an inbound punch. An unknown sender
// gets a Connecting record seeded with its source address, so
// simultaneous connects from both sides converge without an explicit
// accept step.
func (m *Manager) processPunchRequestLocked(packet *inboundPacket, now time.Time) {
	record := m.peers[packet.sender]
	if record == nil {
		record = &Record{Peer: packet.sender}
		m.peers[packet.sender] = record
	}
	record.NATType = packet.natType
	record.LastSeenAt = now

	switch record.State {
	case StateDisconnected:
		record.hint = packet.from
		m.toConnectingLocked(record, now)
		logrus.WithFields(logrus.Fields{
			"function": "processPunchRequest",
			"peer":     packet.sender.String()[:16],
			"from":     packet.from.String(),
		}).Info("Accepting inbound connection")
	case StateDiscovering, StateConnecting, StateConnected, StateRelaying:
		// Already in progress or established; the inline response and
		// the liveness touch above are all this needs.
	}
}

// processPunchResponseLocked confirms a direct path to the sender.
func (m *Manager) processPunchResponseLocked(packet *inboundPacket, now time.Time) {
	record := m.peers[packet.sender]
	if record == nil {
		// Response to a punch we no longer remember sending.
		return
	}
	record.NATType = packet.natType
	record.LastSeenAt = now

	switch record.State {
	case StateConnecting:
		m.toConnectedLocked(record, packet.from, now)
	case StateConnected:
		if record.bridging {
			record.PublicAddr = packet.from
			record.clearPunchState()
			logrus.WithFields(logrus.Fields{
				"function": "processPunchResponse",
				"peer":     packet.sender.String()[:16],
				"addr":     packet.from.String(),
			}).Info("Direct path re-established after address change")
		}
	case StateRelaying:
		if record.forceRelay {
			return
		}
		m.toConnectedLocked(record, packet.from, now)
		record.drainingUntil = now.Add(m.config.RelayDrainGrace)
		logrus.WithFields(logrus.Fields{
			"function": "processPunchResponse",
			"peer":     packet.sender.String()[:16],
		}).Info("Migrated from relay to direct path")
	case StateDisconnected, StateDiscovering:
	}
}

// processDataLocked delivers application data from established peers;
// anything else is dropped.
func (m *Manager) processDataLocked(packet *inboundPacket, now time.Time) {
	record := m.peers[packet.sender]
	if record == nil || !record.State.Established() {
		logrus.WithFields(logrus.Fields{
			"function": "processData",
			"peer":     packet.sender.String()[:16],
		}).Trace("Dropping data from non-established peer")
		return
	}
	record.LastSeenAt = now

	if m.onData != nil {
		payload := make([]byte, len(packet.payload))
		copy(payload, packet.payload)
		m.events = append(m.events, pendingEvent{
			kind:    eventData,
			peer:    packet.sender,
			payload: payload,
		})
	}
}
