package connection

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code3hr/cyxnet/transport"
)

// stunOutcome carries a finished discovery probe back to Poll.
type stunOutcome struct {
	result *transport.DiscoveryResult
	err    error
}

// Poll advances every connection state machine. The embedding node
// calls it from its iteration loop; now is the current time. One pass
// applies any finished discovery probe, launches the next one when
// due, drains the inbound queue, then paces punching, relay fallback
// and liveness per peer. All callbacks fire from here.
func (m *Manager) Poll(now time.Time) {
	m.mu.Lock()
	m.applyStunOutcomeLocked(now)
	m.maybeProbeLocked(now)
	m.processInboxLocked(now)
	m.advanceRecordsLocked(now)
	m.mu.Unlock()
	m.flush()
}

// applyStunOutcomeLocked consumes a finished discovery probe, if any.
// The first success opens the gate for peers parked in Discovering; a
// changed public address starts bridging on every direct session.
func (m *Manager) applyStunOutcomeLocked(now time.Time) {
	var outcome *stunOutcome
	select {
	case outcome = <-m.stunResults:
	default:
		return
	}
	m.stunInFlight = false

	if outcome.err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyStunOutcome",
			"error":    outcome.err.Error(),
		}).Warn("Public address discovery failed")
		// Waiting peers punch blind rather than hang on a broken STUN
		// path; the relay fallback catches what punching cannot.
		m.releaseDiscoveringLocked(now)
		return
	}

	result := outcome.result
	previous := m.network.PublicAddr
	firstDiscovery := m.network.LastStunCheck.IsZero()
	changed := previous != nil && result.PublicAddr != nil &&
		previous.String() != result.PublicAddr.String()

	m.network.PublicAddr = result.PublicAddr
	m.network.NATType = result.NATType
	m.network.LastStunCheck = now
	m.puncher.SetNATType(result.NATType)
	m.monitor.SetPublicAddr(result.PublicAddr)
	m.monitor.SetNATType(result.NATType)

	if changed {
		logrus.WithFields(logrus.Fields{
			"function": "applyStunOutcome",
			"previous": previous.String(),
			"current":  result.PublicAddr.String(),
		}).Info("Public address changed")
		m.bridgeAfterAddressChangeLocked(previous, result.PublicAddr, now)
	}

	if firstDiscovery || changed {
		m.releaseDiscoveringLocked(now)
	}
}

// releaseDiscoveringLocked moves every peer waiting on the discovery
// gate into Connecting.
func (m *Manager) releaseDiscoveringLocked(now time.Time) {
	for _, record := range m.peers {
		if record.State == StateDiscovering {
			m.toConnectingLocked(record, now)
		}
	}
}

// bridgeAfterAddressChangeLocked reacts to the node's own public
// address moving. Direct sessions start punching again from the new
// mapping without ever reporting Disconnected; the old path keeps
// carrying traffic until a fresh punch lands or the attempts run out.
func (m *Manager) bridgeAfterAddressChangeLocked(previous, current *net.UDPAddr, now time.Time) {
	if m.onAddressChange != nil {
		m.events = append(m.events, pendingEvent{
			kind:     eventAddressChange,
			prevAddr: previous,
			newAddr:  current,
		})
	}

	for _, record := range m.peers {
		if record.State != StateConnected {
			continue
		}
		record.bridging = true
		record.candidates = m.candidateAddrsLocked(record)
		record.resetPunchState(now)
	}

	// A relay connection pinned to the old address is dead weight now;
	// redial so relayed peers recover too.
	m.ensureRelayDialLocked()
}

// maybeProbeLocked launches the next discovery probe when due. At most
// one probe runs at a time; its result is picked up by a later poll.
func (m *Manager) maybeProbeLocked(now time.Time) {
	if m.discoverer == nil || m.stunInFlight {
		return
	}
	if now.Before(m.nextStunAt) {
		return
	}
	m.stunInFlight = true
	m.nextStunAt = now.Add(m.config.StunRefreshInterval)

	discoverer := m.discoverer
	monitor := m.monitor
	go func() {
		if changed, err := monitor.Refresh(); err == nil && changed {
			logrus.WithFields(logrus.Fields{
				"function": "maybeProbe",
			}).Info("Local interfaces changed")
		}
		result, err := discoverer.Discover(context.Background())
		m.stunResults <- &stunOutcome{result: result, err: err}
	}()
}

// advanceRecordsLocked runs one scheduling step for every peer.
func (m *Manager) advanceRecordsLocked(now time.Time) {
	for _, record := range m.peers {
		switch record.State {
		case StateConnecting:
			m.advanceConnectingLocked(record, now)
		case StateConnected:
			m.advanceConnectedLocked(record, now)
		case StateRelaying:
			m.advanceRelayingLocked(record, now)
		case StateDiscovering:
			// No discoverer means the gate would never open; readiness
			// came from a bootstrap or relay, so punch right away.
			if m.discoverer == nil {
				m.toConnectingLocked(record, now)
				m.advanceConnectingLocked(record, now)
			}
		case StateDisconnected:
		}
		if !record.drainingUntil.IsZero() && !now.Before(record.drainingUntil) {
			record.drainingUntil = time.Time{}
		}
	}
}

// advanceConnectingLocked paces punch rounds and decides the fallback
// when they are exhausted.
func (m *Manager) advanceConnectingLocked(record *Record, now time.Time) {
	// Start dialing the relay early so the fallback is warm by the
	// time punching gives up.
	m.ensureRelayDialLocked()

	if record.forceRelay && m.relayReadyLocked() {
		m.toRelayingLocked(record, now)
		return
	}
	if !m.network.NATType.SupportsPunching() && m.relayReadyLocked() {
		logrus.WithFields(logrus.Fields{
			"function": "advanceConnecting",
			"peer":     record.Peer.String()[:16],
			"nat_type": m.network.NATType.String(),
		}).Info("NAT type defeats punching, using relay")
		m.toRelayingLocked(record, now)
		return
	}

	if now.Before(record.nextPunchAt) {
		return
	}

	if record.punchAttempts >= m.config.MaxPunchAttempts {
		if m.relayReadyLocked() {
			m.toRelayingLocked(record, now)
			return
		}
		record.State = StateDisconnected
		record.clearPunchState()
		m.emitStateLocked(record)
		logrus.WithFields(logrus.Fields{
			"function": "advanceConnecting",
			"peer":     record.Peer.String()[:16],
		}).Warn("Hole punching failed and no relay is reachable")
		return
	}

	m.sendPunchRoundLocked(record)
	record.punchAttempts++
	record.nextPunchAt = now.Add(m.config.PunchInterval)
}

// advanceConnectedLocked checks liveness and, while bridging after an
// address change, keeps punching from the new mapping.
func (m *Manager) advanceConnectedLocked(record *Record, now time.Time) {
	if m.demoteIfSilentLocked(record, now) {
		return
	}
	if !record.bridging || now.Before(record.nextPunchAt) {
		return
	}

	if record.punchAttempts >= m.config.MaxPunchAttempts {
		if m.relayReadyLocked() {
			m.toRelayingLocked(record, now)
			return
		}
		// No fresh punch landed and no relay either; ride the old
		// mapping for as long as it keeps working.
		record.bridging = false
		logrus.WithFields(logrus.Fields{
			"function": "advanceConnected",
			"peer":     record.Peer.String()[:16],
		}).Warn("Re-punch after address change failed, keeping stale path")
		return
	}

	m.sendPunchRoundLocked(record)
	record.punchAttempts++
	record.nextPunchAt = now.Add(m.config.PunchInterval)
}

// advanceRelayingLocked keeps relayed peers alive and, unless the peer
// is pinned to the relay, retries a direct path in the background.
func (m *Manager) advanceRelayingLocked(record *Record, now time.Time) {
	if m.demoteIfSilentLocked(record, now) {
		return
	}
	if record.forceRelay || now.Before(record.nextPunchAt) {
		return
	}

	// Addresses may have improved since the fallback; punch the
	// freshest set.
	record.candidates = m.candidateAddrsLocked(record)
	m.sendPunchRoundLocked(record)
	record.nextPunchAt = now.Add(m.config.BackgroundPunchInterval)
}

// demoteIfSilentLocked disconnects an established peer that has been
// silent past the liveness timeout. Reports whether it demoted.
func (m *Manager) demoteIfSilentLocked(record *Record, now time.Time) bool {
	if now.Sub(record.LastSeenAt) < m.config.LivenessTimeout {
		return false
	}

	record.State = StateDisconnected
	record.Relayed = false
	record.clearPunchState()
	record.drainingUntil = time.Time{}
	m.emitStateLocked(record)

	logrus.WithFields(logrus.Fields{
		"function":  "demoteIfSilent",
		"peer":      record.Peer.String()[:16],
		"last_seen": record.LastSeenAt.Format(time.RFC3339),
	}).Warn("Peer timed out")
	return true
}

// sendPunchRoundLocked fires one punch at every candidate address.
func (m *Manager) sendPunchRoundLocked(record *Record) {
	for _, addr := range record.candidates {
		if err := m.puncher.SendPunch(addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendPunchRound",
				"addr":     addr.String(),
				"error":    err.Error(),
			}).Trace("Punch send failed")
		}
	}
}
