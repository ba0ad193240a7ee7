package dht

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
	"github.com/code3hr/cyxnet/transport"
)

// refreshSender records that a packet arrived from the peer at addr,
// keeping the directory's address for it current. This is how entries
// follow peers across IP changes.
func (d *DHT) refreshSender(id crypto.PeerID, addr net.Addr) {
	node := NewNode(id, addr)
	node.Update(StatusGood)
	d.routing.AddNode(node)
	if d.observer != nil {
		d.observer(id, addr)
	}
}

// handleGetNodes answers a closest-nodes query from our routing table.
func (d *DHT) handleGetNodes(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseGetNodesPayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)

	closest := d.routing.FindClosestNodes(payload.Target, BucketSize)
	entries := make([]NodeEntry, 0, len(closest))
	for _, node := range closest {
		if node.ID == payload.Sender {
			continue
		}
		udpAddr, ok := node.Address.(*net.UDPAddr)
		if !ok {
			// Relay-reached entries carry no routable UDP address.
			continue
		}
		entries = append(entries, NodeEntry{ID: node.ID, Addr: udpAddr})
	}

	response := &SendNodesPayload{Sender: d.selfID, Nodes: entries}
	responsePacket := &transport.Packet{
		PacketType: transport.PacketSendNodes,
		Data:       response.Serialize(),
	}
	return d.transport.Send(responsePacket, senderAddr)
}

// handleSendNodes merges a closest-nodes answer into the routing table
// and feeds any lookup waiting on the sender.
func (d *DHT) handleSendNodes(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseSendNodesPayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)
	d.bootstrap.MarkSeedSuccess(payload.Sender)

	for _, entry := range payload.Nodes {
		if entry.ID == d.selfID {
			continue
		}
		d.routing.AddNode(NewNode(entry.ID, entry.Addr))
	}

	d.lookups.ProcessNodes(payload.Sender, payload.Nodes)
	return nil
}

// handlePingRequest answers liveness probes with our own ID.
func (d *DHT) handlePingRequest(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParsePingPayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)

	response := &PingPayload{Sender: d.selfID}
	responsePacket := &transport.Packet{
		PacketType: transport.PacketPingResponse,
		Data:       response.Serialize(),
	}
	return d.transport.Send(responsePacket, senderAddr)
}

// handlePingResponse marks the responder alive.
func (d *DHT) handlePingResponse(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParsePingPayload(packet.Data)
	if err != nil {
		return err
	}

	if node := d.routing.FindNode(payload.Sender); node != nil {
		node.RecordPingResponse(true)
		node.Address = senderAddr
		return nil
	}

	d.refreshSender(payload.Sender, senderAddr)
	return nil
}

// handleStoreRequest stores a replicated record and acknowledges it.
func (d *DHT) handleStoreRequest(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseStoreRequestPayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)

	accepted := true
	if err := d.storage.Put(payload.Key, payload.Value, payload.Sender); err != nil {
		accepted = false
		logrus.WithFields(logrus.Fields{
			"function": "handleStoreRequest",
			"error":    err.Error(),
		}).Debug("Rejected store request")
	}

	response := &StoreResponsePayload{
		Sender:   d.selfID,
		Key:      payload.Key,
		Accepted: accepted,
	}
	responsePacket := &transport.Packet{
		PacketType: transport.PacketStoreResponse,
		Data:       response.Serialize(),
	}
	return d.transport.Send(responsePacket, senderAddr)
}

// handleStoreResponse refreshes the responder. Replication is
// fire-and-forget; a rejection only shows up in logs.
func (d *DHT) handleStoreResponse(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseStoreResponsePayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)

	if !payload.Accepted {
		return fmt.Errorf("store rejected by %s", payload.Sender.String()[:16])
	}
	return nil
}

// handleRetrieveRequest answers with the locally stored value, if any.
func (d *DHT) handleRetrieveRequest(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseRetrieveRequestPayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)

	value, found := d.storage.Get(payload.Key)
	response := &RetrieveResponsePayload{
		Sender: d.selfID,
		Key:    payload.Key,
		Found:  found,
		Value:  value,
	}
	data, err := response.Serialize()
	if err != nil {
		return err
	}
	responsePacket := &transport.Packet{
		PacketType: transport.PacketRetrieveResponse,
		Data:       data,
	}
	return d.transport.Send(responsePacket, senderAddr)
}

// handleRetrieveResponse resolves the waiting value lookup.
func (d *DHT) handleRetrieveResponse(packet *transport.Packet, senderAddr net.Addr) error {
	payload, err := ParseRetrieveResponsePayload(packet.Data)
	if err != nil {
		return err
	}

	d.refreshSender(payload.Sender, senderAddr)
	d.lookups.ProcessRetrieveResponse(payload)
	return nil
}
