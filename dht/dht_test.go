package dht

import (
	"bytes"
	"testing"
	"time"

	"github.com/code3hr/cyxnet/transport"
)

func newTestDHT() (*DHT, *MockTransport) {
	mock := newMockTransport()
	d := New(createTestID(0), mock, nil)
	d.RegisterHandlers()
	return d, mock
}

func TestNew_Defaults(t *testing.T) {
	d, _ := newTestDHT()

	if d.SelfID() != createTestID(0) {
		t.Error("self ID mismatch")
	}
	if d.RoutingTable() == nil || d.Storage() == nil {
		t.Fatal("expected routing table and storage to be initialized")
	}
	if d.RoutingTable().NodeCount() != 0 {
		t.Error("expected empty routing table")
	}
}

func TestDHT_AddGetRemovePeer(t *testing.T) {
	d, _ := newTestDHT()
	addr := testUDPAddr(33445)

	if !d.AddPeer(createTestID(1), addr) {
		t.Fatal("add peer failed")
	}

	node := d.GetPeer(createTestID(1))
	if node == nil {
		t.Fatal("expected peer entry")
	}
	if node.Address.String() != addr.String() {
		t.Error("address mismatch")
	}

	if !d.RemovePeer(createTestID(1)) {
		t.Error("remove peer failed")
	}
	if d.GetPeer(createTestID(1)) != nil {
		t.Error("expected entry gone after removal")
	}
	if d.RemovePeer(createTestID(1)) {
		t.Error("removing a missing peer must report false")
	}
}

func TestDHT_IsReady(t *testing.T) {
	d, _ := newTestDHT()

	if d.IsReady() {
		t.Error("empty directory must not be ready")
	}

	d.AddPeer(createTestID(1), testUDPAddr(33445))
	if !d.IsReady() {
		t.Error("directory with a live entry must be ready")
	}

	d.GetPeer(createTestID(1)).Update(StatusBad)
	if d.IsReady() {
		t.Error("directory with only dead entries must not be ready")
	}
}

func TestDHT_FindClosest(t *testing.T) {
	d, _ := newTestDHT()
	d.AddPeer(createTestID(0x01), testUDPAddr(33401))
	d.AddPeer(createTestID(0x0F), testUDPAddr(33402))

	closest := d.FindClosest(createTestID(0x0E), 2)
	if len(closest) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(closest))
	}
	if closest[0].ID != createTestID(0x0F) {
		t.Error("expected the nearest node first")
	}
}

func TestDHT_StoreReplicates(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(1), testUDPAddr(33401))
	d.AddPeer(createTestID(2), testUDPAddr(33402))

	key := [32]byte{0xAA}
	if err := d.Store(key, []byte("record"), time.Now()); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	if value, ok := d.Storage().Get(key); !ok || !bytes.Equal(value, []byte("record")) {
		t.Error("expected the record held locally")
	}
	if got := mock.CountSentByType(transport.PacketStoreRequest); got != 2 {
		t.Errorf("expected replication to both known nodes, got %d requests", got)
	}

	packets, _ := mock.GetSentPackets()
	payload, err := ParseStoreRequestPayload(packets[0].Data)
	if err != nil {
		t.Fatalf("sent payload malformed: %v", err)
	}
	if payload.Key != key || !bytes.Equal(payload.Value, []byte("record")) {
		t.Error("replicated payload mismatch")
	}
}

func TestDHT_StoreOversizedValue(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(1), testUDPAddr(33401))

	err := d.Store([32]byte{0xAA}, make([]byte, maxWireValueSize+1), time.Now())
	if err == nil {
		t.Fatal("expected error for oversized record")
	}
	if got := mock.CountSentByType(transport.PacketStoreRequest); got != 0 {
		t.Error("rejected record must not be replicated")
	}
}

func TestDHT_RetrieveLocalHit(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(1), testUDPAddr(33401))

	key := [32]byte{0xBB}
	d.Storage().Put(key, []byte("cached"), createTestID(0))

	lookup := d.Retrieve(key, time.Now())

	result := receiveRetrieve(t, lookup)
	if !result.Found || !bytes.Equal(result.Value, []byte("cached")) {
		t.Error("expected the local record answered immediately")
	}
	if result.From != d.SelfID() {
		t.Error("local answers carry our own ID")
	}
	if got := mock.CountSentByType(transport.PacketRetrieveRequest); got != 0 {
		t.Error("local hit must not query the network")
	}
}

func TestDHT_RetrieveQueriesNetwork(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(1), testUDPAddr(33401))

	d.Retrieve([32]byte{0xBB}, time.Now())

	if got := mock.CountSentByType(transport.PacketRetrieveRequest); got != 1 {
		t.Errorf("expected the known node queried, got %d requests", got)
	}
}

func TestDHT_HandleGetNodesResponds(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(0x05), testUDPAddr(33405))
	d.AddPeer(createTestID(0x06), testUDPAddr(33406))

	query := &GetNodesPayload{Sender: createTestID(0x07), Target: createTestID(0x05)}
	packet := &transport.Packet{PacketType: transport.PacketGetNodes, Data: query.Serialize()}

	if err := mock.SimulateReceive(packet, testUDPAddr(33407)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	packets, addrs := mock.GetSentPackets()
	if len(packets) != 1 || packets[0].PacketType != transport.PacketSendNodes {
		t.Fatal("expected a send-nodes response")
	}
	if addrs[0].String() != testUDPAddr(33407).String() {
		t.Error("response must go back to the querier")
	}

	response, err := ParseSendNodesPayload(packets[0].Data)
	if err != nil {
		t.Fatalf("response malformed: %v", err)
	}
	if response.Sender != d.SelfID() {
		t.Error("response sender mismatch")
	}
	for _, entry := range response.Nodes {
		if entry.ID == query.Sender {
			t.Error("querier must not be told about itself")
		}
	}
	if len(response.Nodes) != 2 {
		t.Errorf("expected both known nodes in the answer, got %d", len(response.Nodes))
	}

	// Receiving the query also taught us about the querier.
	if d.GetPeer(createTestID(0x07)) == nil {
		t.Error("expected the querier added to the directory")
	}
}

func TestDHT_HandlePingRequestResponds(t *testing.T) {
	d, mock := newTestDHT()

	ping := &PingPayload{Sender: createTestID(0x09)}
	packet := &transport.Packet{PacketType: transport.PacketPingRequest, Data: ping.Serialize()}

	if err := mock.SimulateReceive(packet, testUDPAddr(33409)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	packets, _ := mock.GetSentPackets()
	if len(packets) != 1 || packets[0].PacketType != transport.PacketPingResponse {
		t.Fatal("expected a ping response")
	}
	pong, err := ParsePingPayload(packets[0].Data)
	if err != nil {
		t.Fatalf("response malformed: %v", err)
	}
	if pong.Sender != d.SelfID() {
		t.Error("ping responses carry the responder's own ID")
	}
}

func TestDHT_HandlePingResponseMarksAlive(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(0x09), testUDPAddr(33409))
	node := d.GetPeer(createTestID(0x09))
	node.RecordPingSent()

	pong := &PingPayload{Sender: createTestID(0x09)}
	packet := &transport.Packet{PacketType: transport.PacketPingResponse, Data: pong.Serialize()}

	newAddr := testUDPAddr(33500)
	if err := mock.SimulateReceive(packet, newAddr); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if node.Status != StatusGood {
		t.Error("expected responder marked good")
	}
	if node.Address.String() != newAddr.String() {
		t.Error("expected the entry to follow the responder's new address")
	}
}

func TestDHT_HandleStoreRequestStoresAndAcks(t *testing.T) {
	d, mock := newTestDHT()

	key := [32]byte{0xCC}
	request := &StoreRequestPayload{Sender: createTestID(0x03), Key: key, Value: []byte("replica")}
	data, err := request.Serialize()
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	packet := &transport.Packet{PacketType: transport.PacketStoreRequest, Data: data}

	if err := mock.SimulateReceive(packet, testUDPAddr(33403)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if value, ok := d.Storage().Get(key); !ok || !bytes.Equal(value, []byte("replica")) {
		t.Error("expected the replica stored")
	}

	packets, _ := mock.GetSentPackets()
	if len(packets) != 1 || packets[0].PacketType != transport.PacketStoreResponse {
		t.Fatal("expected a store acknowledgement")
	}
	ack, err := ParseStoreResponsePayload(packets[0].Data)
	if err != nil {
		t.Fatalf("ack malformed: %v", err)
	}
	if !ack.Accepted || ack.Key != key {
		t.Error("expected the store accepted")
	}
}

func TestDHT_HandleRetrieveRequestAnswers(t *testing.T) {
	d, mock := newTestDHT()

	key := [32]byte{0xDD}
	d.Storage().Put(key, []byte("stored"), createTestID(0))

	request := &RetrieveRequestPayload{Sender: createTestID(0x04), Key: key}
	packet := &transport.Packet{PacketType: transport.PacketRetrieveRequest, Data: request.Serialize()}

	if err := mock.SimulateReceive(packet, testUDPAddr(33404)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	packets, _ := mock.GetSentPackets()
	if len(packets) != 1 || packets[0].PacketType != transport.PacketRetrieveResponse {
		t.Fatal("expected a retrieve response")
	}
	response, err := ParseRetrieveResponsePayload(packets[0].Data)
	if err != nil {
		t.Fatalf("response malformed: %v", err)
	}
	if !response.Found || !bytes.Equal(response.Value, []byte("stored")) {
		t.Error("expected the stored value answered")
	}
}

func TestDHT_HandleRetrieveRequestMiss(t *testing.T) {
	_, mock := newTestDHT()

	request := &RetrieveRequestPayload{Sender: createTestID(0x04), Key: [32]byte{0xEE}}
	packet := &transport.Packet{PacketType: transport.PacketRetrieveRequest, Data: request.Serialize()}

	if err := mock.SimulateReceive(packet, testUDPAddr(33404)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	packets, _ := mock.GetSentPackets()
	response, err := ParseRetrieveResponsePayload(packets[0].Data)
	if err != nil {
		t.Fatalf("response malformed: %v", err)
	}
	if response.Found {
		t.Error("expected a not-found answer")
	}
}

func TestDHT_LookupThroughHandlers(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(0x01), testUDPAddr(33401))

	now := time.Now()
	target := createTestID(0xFF)
	lookup := d.Lookup(target, now)

	if got := mock.CountSentByType(transport.PacketGetNodes); got != 1 {
		t.Fatalf("expected the known node queried, got %d", got)
	}

	// The queried node answers with a closer node; the next poll
	// chases it.
	answer := &SendNodesPayload{
		Sender: createTestID(0x01),
		Nodes:  []NodeEntry{{ID: createTestID(0x02), Addr: testUDPAddr(33402)}},
	}
	packet := &transport.Packet{PacketType: transport.PacketSendNodes, Data: answer.Serialize()}
	if err := mock.SimulateReceive(packet, testUDPAddr(33401)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	d.Poll(now)

	if got := mock.CountSentByType(transport.PacketGetNodes); got != 2 {
		t.Fatalf("expected a follow-up query, got %d total", got)
	}
	if d.GetPeer(createTestID(0x02)) == nil {
		t.Error("expected the learned node added to the directory")
	}

	// The closer node has nothing new; the lookup completes.
	final := &SendNodesPayload{Sender: createTestID(0x02)}
	packet = &transport.Packet{PacketType: transport.PacketSendNodes, Data: final.Serialize()}
	if err := mock.SimulateReceive(packet, testUDPAddr(33402)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	d.Poll(now)

	result := receiveNodes(t, lookup)
	if len(result) != 2 {
		t.Fatalf("expected both nodes in the result, got %d", len(result))
	}
	if result[0].ID != createTestID(0x02) {
		t.Error("expected the node closest to the target first")
	}
}

func TestDHT_PollDrivesMaintenance(t *testing.T) {
	d, mock := newTestDHT()
	d.AddPeer(createTestID(0x01), testUDPAddr(33401))

	now := time.Now()
	d.Poll(now)
	mock.ResetSentPackets()

	// Entries go quiet; the next due poll probes them.
	d.GetPeer(createTestID(0x01)).LastSeen = now.Add(-10 * time.Minute)
	d.Poll(now.Add(DefaultMaintenanceConfig().PingInterval))

	if got := mock.CountSentByType(transport.PacketPingRequest); got == 0 {
		t.Error("expected quiet entries probed by maintenance")
	}
}
