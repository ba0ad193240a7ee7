package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/crypto"
)

// RelayState represents the current state of a relay connection.
type RelayState uint8

const (
	// RelayStateDisconnected means not connected to any relay.
	RelayStateDisconnected RelayState = iota
	// RelayStateConnecting means connection is in progress.
	RelayStateConnecting
	// RelayStateConnected means registered and ready to forward.
	RelayStateConnected
	// RelayStateFailed means the last connection attempt failed.
	RelayStateFailed
)

// RelayPacketType identifies relay protocol frame types.
type RelayPacketType uint8

const (
	// RelayPacketRegister registers the client's peer ID with the relay.
	RelayPacketRegister RelayPacketType = 0x00
	// RelayPacketData frames a forwarded packet.
	RelayPacketData RelayPacketType = 0x01
	// RelayPacketPing is the keepalive ping.
	RelayPacketPing RelayPacketType = 0x02
	// RelayPacketPong is the keepalive pong response.
	RelayPacketPong RelayPacketType = 0x03
	// RelayPacketDisconnect notifies orderly disconnection.
	RelayPacketDisconnect RelayPacketType = 0x04
)

const (
	// maxRelayFrameSize bounds a single relayed frame to keep a hostile
	// relay from forcing huge allocations.
	maxRelayFrameSize = 1 << 16

	relayDialTimeout       = 10 * time.Second
	relayWriteTimeout      = 5 * time.Second
	relayKeepaliveInterval = 30 * time.Second
)

// RelayServerInfo describes a relay server the client may register with.
type RelayServerInfo struct {
	Address  string
	Port     uint16
	Priority int
}

// RelayClient keeps a TCP connection to a relay server and forwards
// packets through it when direct UDP paths are unavailable. Frames on
// the wire are [type][peer_id 32][length u32][payload]; the relay
// forwards by registered peer ID.
type RelayClient struct {
	selfID      crypto.PeerID
	servers     []RelayServerInfo
	conn        net.Conn
	active      *RelayServerInfo
	state       RelayState
	dataHandler func(*Packet, net.Addr) error
	mu          sync.RWMutex
	timeout     time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	keepalive   *time.Ticker
	lastPong    time.Time
}

// NewRelayClient creates a relay client that registers as selfID.
func NewRelayClient(selfID crypto.PeerID) *RelayClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayClient{
		selfID:  selfID,
		state:   RelayStateDisconnected,
		timeout: relayDialTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddRelayServer adds a relay server to the candidate list.
func (rc *RelayClient) AddRelayServer(server RelayServerInfo) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.servers = append(rc.servers, server)

	logrus.WithFields(logrus.Fields{
		"function": "AddRelayServer",
		"address":  server.Address,
		"port":     server.Port,
		"priority": server.Priority,
	}).Info("Relay server added")
}

// RemoveRelayServer removes a relay server from the candidate list.
func (rc *RelayClient) RemoveRelayServer(address string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for i, server := range rc.servers {
		if server.Address != address {
			continue
		}
		rc.servers = append(rc.servers[:i], rc.servers[i+1:]...)
		logrus.WithFields(logrus.Fields{
			"function": "RemoveRelayServer",
			"address":  address,
		}).Info("Relay server removed")
		return
	}
}

// Connect registers with the first reachable relay server, trying them
// in priority order. It is a no-op when a connection already exists or
// is being established.
func (rc *RelayClient) Connect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == RelayStateConnecting || rc.state == RelayStateConnected {
		rc.mu.Unlock()
		return nil
	}
	rc.state = RelayStateConnecting
	rc.mu.Unlock()

	candidates := rc.getServersByPriority()
	if len(candidates) == 0 {
		rc.setState(RelayStateFailed)
		return errors.New("no relay servers configured")
	}

	var lastErr error
	for _, server := range candidates {
		conn, err := rc.dial(ctx, server)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "Connect",
				"address":  server.Address,
				"error":    err.Error(),
			}).Warn("Relay server unreachable")
			continue
		}
		rc.adopt(conn, server)
		return nil
	}

	rc.setState(RelayStateFailed)
	return fmt.Errorf("all relay servers failed: %w", lastErr)
}

// dial opens a TCP connection to one relay server and completes the
// registration handshake on it.
func (rc *RelayClient) dial(ctx context.Context, server RelayServerInfo) (net.Conn, error) {
	rc.mu.RLock()
	timeout := rc.timeout
	rc.mu.RUnlock()

	dialer := net.Dialer{Timeout: timeout}
	hostPort := net.JoinHostPort(server.Address, strconv.Itoa(int(server.Port)))
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if err := registerWithRelay(conn, rc.selfID, timeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay registration: %w", err)
	}
	return conn, nil
}

// registerWithRelay announces our peer ID and waits for the relay's
// two-byte acknowledgment. No frames flow until the relay accepts.
func registerWithRelay(conn net.Conn, self crypto.PeerID, timeout time.Duration) error {
	frame := make([]byte, 0, 1+crypto.PeerIDSize)
	frame = append(frame, byte(RelayPacketRegister))
	frame = append(frame, self[:]...)

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	var ack [2]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("read registration ack: %w", err)
	}
	if ack[0] != byte(RelayPacketRegister) || ack[1] != 0x01 {
		return errors.New("relay rejected registration")
	}
	return nil
}

// adopt installs the registered connection and starts the read and
// keepalive loops for it.
func (rc *RelayClient) adopt(conn net.Conn, server RelayServerInfo) {
	rc.mu.Lock()
	rc.conn = conn
	rc.active = &server
	rc.state = RelayStateConnected
	rc.lastPong = time.Now()
	if rc.keepalive != nil {
		rc.keepalive.Stop()
	}
	ticker := time.NewTicker(relayKeepaliveInterval)
	rc.keepalive = ticker
	rc.mu.Unlock()

	go rc.keepaliveLoop(ticker)
	go rc.readLoop(conn)

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"address":  server.Address,
		"port":     server.Port,
	}).Info("Registered with relay server")
}

// RelayTo forwards a packet through the relay to the target peer. The
// relay delivers it if the target is registered there too.
func (rc *RelayClient) RelayTo(packet *Packet, target crypto.PeerID) error {
	rc.mu.RLock()
	conn, state := rc.conn, rc.state
	rc.mu.RUnlock()

	if state != RelayStateConnected || conn == nil {
		return errors.New("relay session not established")
	}

	inner, err := packet.Serialize()
	if err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}

	frame := make([]byte, 0, 1+crypto.PeerIDSize+4+len(inner))
	frame = append(frame, byte(RelayPacketData))
	frame = append(frame, target[:]...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(inner)))
	frame = append(frame, inner...)

	if err := conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout)); err != nil {
		return err
	}
	defer conn.SetWriteDeadline(time.Time{})

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write relay frame: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "RelayTo",
		"packet_type": packet.PacketType,
		"bytes":       len(inner),
	}).Debug("Forwarded packet through relay")

	return nil
}

// SetDataHandler sets the handler invoked for each relayed packet. The
// handler runs on the relay read goroutine in arrival order, matching
// the dispatch contract of the UDP transport.
func (rc *RelayClient) SetDataHandler(handler func(*Packet, net.Addr) error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.dataHandler = handler
}

// readLoop consumes frames from the relay connection until it drops or
// the client closes.
func (rc *RelayClient) readLoop(conn net.Conn) {
	for rc.ctx.Err() == nil {
		var kind [1]byte
		if _, err := io.ReadFull(conn, kind[:]); err != nil {
			rc.teardown(err)
			return
		}

		var err error
		switch RelayPacketType(kind[0]) {
		case RelayPacketData:
			err = rc.readRelayedPacket(conn)
		case RelayPacketPong:
			rc.mu.Lock()
			rc.lastPong = time.Now()
			rc.mu.Unlock()
		case RelayPacketDisconnect:
			err = io.EOF
		default:
			err = fmt.Errorf("unexpected relay frame type %#x", kind[0])
		}
		if err != nil {
			rc.teardown(err)
			return
		}
	}
}

// readRelayedPacket reads the remainder of a data frame and delivers
// the inner packet to the data handler.
func (rc *RelayClient) readRelayedPacket(conn net.Conn) error {
	var header [crypto.PeerIDSize + 4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return err
	}

	var source crypto.PeerID
	copy(source[:], header[:crypto.PeerIDSize])

	size := binary.BigEndian.Uint32(header[crypto.PeerIDSize:])
	if size > maxRelayFrameSize {
		return fmt.Errorf("relayed frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return err
	}

	packet, err := ParsePacket(payload)
	if err != nil {
		return fmt.Errorf("parse relayed packet: %w", err)
	}

	rc.mu.RLock()
	handler := rc.dataHandler
	server := rc.active
	rc.mu.RUnlock()

	if handler == nil || server == nil {
		return nil
	}

	from := &RelayedAddress{RelayServer: server.Address, Peer: source}
	if err := handler(packet, from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "readRelayedPacket",
			"error":    err.Error(),
		}).Warn("Relayed packet handler failed")
	}
	return nil
}

// teardown closes the active connection and clears session state. Safe
// to call repeatedly; later calls find nothing to release.
func (rc *RelayClient) teardown(cause error) {
	if cause != nil && rc.ctx.Err() == nil &&
		!errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "teardown",
			"error":    cause.Error(),
		}).Warn("Relay session lost")
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.conn != nil {
		rc.conn.Close()
		rc.conn = nil
	}
	rc.active = nil
	if rc.keepalive != nil {
		rc.keepalive.Stop()
		rc.keepalive = nil
	}
	rc.state = RelayStateDisconnected
}

// keepaliveLoop pings the relay on each tick so NAT mappings along the
// path stay warm. Pongs land in lastPong for health checks.
func (rc *RelayClient) keepaliveLoop(ticker *time.Ticker) {
	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.mu.RLock()
			conn := rc.conn
			rc.mu.RUnlock()
			if conn == nil {
				return
			}
			if _, err := conn.Write([]byte{byte(RelayPacketPing)}); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "keepaliveLoop",
					"error":    err.Error(),
				}).Warn("Relay keepalive failed")
			}
		}
	}
}

// getServersByPriority returns the servers sorted by ascending priority
// value, lower meaning preferred.
func (rc *RelayClient) getServersByPriority() []RelayServerInfo {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	candidates := append([]RelayServerInfo(nil), rc.servers...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates
}

func (rc *RelayClient) setState(state RelayState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.state = state
}

// GetState returns the current relay connection state.
func (rc *RelayClient) GetState() RelayState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state
}

// IsConnected reports whether the client is registered with a relay.
func (rc *RelayClient) IsConnected() bool {
	return rc.GetState() == RelayStateConnected
}

// LastPong returns when the relay last answered a keepalive. Callers
// use it to judge relay health during their poll cycle.
func (rc *RelayClient) LastPong() time.Time {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.lastPong
}

// GetActiveServer returns the currently connected relay server, or nil.
func (rc *RelayClient) GetActiveServer() *RelayServerInfo {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.active == nil {
		return nil
	}
	server := *rc.active
	return &server
}

// GetServerCount returns the number of configured relay servers.
func (rc *RelayClient) GetServerCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.servers)
}

// SetTimeout sets the dial and handshake timeout.
func (rc *RelayClient) SetTimeout(timeout time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.timeout = timeout
}

// Close announces departure to the relay and releases all resources.
// Safe to call more than once.
func (rc *RelayClient) Close() error {
	rc.cancel()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.keepalive != nil {
		rc.keepalive.Stop()
		rc.keepalive = nil
	}
	if rc.conn != nil {
		rc.conn.SetWriteDeadline(time.Now().Add(time.Second))
		rc.conn.Write([]byte{byte(RelayPacketDisconnect)})
		rc.conn.Close()
		rc.conn = nil
	}
	rc.active = nil
	rc.state = RelayStateDisconnected

	logrus.WithField("function", "Close").Debug("Relay client closed")

	return nil
}

// RelayedAddress is the net.Addr form of a peer reached through a
// relay. Packet handlers receive it in place of a UDP address.
type RelayedAddress struct {
	RelayServer string
	Peer        crypto.PeerID
}

// Network returns the network type for a relayed address.
func (ra *RelayedAddress) Network() string {
	return "relay"
}

// String renders the relay host and the short form of the peer ID.
func (ra *RelayedAddress) String() string {
	return fmt.Sprintf("relay://%s/%x", ra.RelayServer, ra.Peer[:8])
}
