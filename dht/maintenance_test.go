package dht

import (
	"testing"
	"time"

	"github.com/code3hr/cyxnet/transport"
)

func newTestMaintainer(mock *MockTransport) (*Maintainer, *RoutingTable, *BootstrapManager) {
	routing := NewRoutingTable(createTestID(0), BucketSize)
	bootstrap := NewBootstrapManager(createTestID(0), mock, routing)
	lookups := NewLookupManager(createTestID(0), mock, routing)
	m := NewMaintainer(routing, bootstrap, lookups, mock, createTestID(0), DefaultMaintenanceConfig())
	return m, routing, bootstrap
}

func TestMaintainer_PingsQuietNodes(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	node := NewNode(createTestID(1), testUDPAddr(33401))
	node.LastSeen = time.Now().Add(-6 * time.Minute)
	routing.AddNode(node)

	m.Poll(time.Now())

	if got := mock.CountSentByType(transport.PacketPingRequest); got != 1 {
		t.Fatalf("expected the quiet node pinged, got %d pings", got)
	}
	if node.PingStats.PingCount != 1 {
		t.Error("expected the ping recorded on the node")
	}
}

func TestMaintainer_SkipsActiveNodes(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	routing.AddNode(NewNode(createTestID(1), testUDPAddr(33401)))

	m.Poll(time.Now())

	if got := mock.CountSentByType(transport.PacketPingRequest); got != 0 {
		t.Errorf("recently seen nodes must not be pinged, got %d pings", got)
	}
}

func TestMaintainer_RespectsIntervals(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	node := NewNode(createTestID(1), testUDPAddr(33401))
	node.LastSeen = time.Now().Add(-6 * time.Minute)
	routing.AddNode(node)

	now := time.Now()
	m.Poll(now)
	mock.ResetSentPackets()

	m.Poll(now.Add(time.Second))

	packets, _ := mock.GetSentPackets()
	if len(packets) != 0 {
		t.Errorf("nothing is due one second later, yet %d packets were sent", len(packets))
	}
}

func TestMaintainer_PingsSeedsWhenTableEmpty(t *testing.T) {
	mock := newMockTransport()
	m, _, bootstrap := newTestMaintainer(mock)
	bootstrap.AddNode(testUDPAddr(33445), createTestID(7).String())

	m.Poll(time.Now())

	if got := mock.CountSentByType(transport.PacketPingRequest); got != 1 {
		t.Errorf("expected the seed pinged when the table is empty, got %d pings", got)
	}
}

func TestMaintainer_RefreshLookups(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	routing.AddNode(NewNode(createTestID(1), testUDPAddr(33401)))

	m.Poll(time.Now())

	// One lookup toward our own ID and one toward a random ID, each
	// querying the only known node.
	if got := mock.CountSentByType(transport.PacketGetNodes); got != 2 {
		t.Errorf("expected two refresh queries, got %d", got)
	}
}

func TestMaintainer_NoRefreshOnEmptyTable(t *testing.T) {
	mock := newMockTransport()
	m, _, _ := newTestMaintainer(mock)

	m.Poll(time.Now())

	if got := mock.CountSentByType(transport.PacketGetNodes); got != 0 {
		t.Errorf("refresh lookups need a populated table, got %d queries", got)
	}
}

func TestMaintainer_DemotesSilentNodes(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	node := NewNode(createTestID(1), testUDPAddr(33401))
	node.Status = StatusGood
	node.LastSeen = time.Now().Add(-11 * time.Minute)
	routing.AddNode(node)

	m.Poll(time.Now())

	if node.Status != StatusBad {
		t.Error("expected a node silent past the timeout marked bad")
	}
	if routing.FindNode(node.ID) == nil {
		t.Error("demoted nodes stay in the table until the prune timeout")
	}
}

func TestMaintainer_PrunesLongDeadNodes(t *testing.T) {
	mock := newMockTransport()
	m, routing, _ := newTestMaintainer(mock)

	node := NewNode(createTestID(1), testUDPAddr(33401))
	node.Status = StatusBad
	node.LastSeen = time.Now().Add(-2 * time.Hour)
	routing.AddNode(node)

	m.Poll(time.Now())

	if routing.FindNode(node.ID) != nil {
		t.Error("expected a long-dead node removed")
	}
}
