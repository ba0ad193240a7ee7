package transport

// NATType represents the type of NAT detected in front of a peer.
type NATType uint8

const (
	// NATTypeUnknown means the NAT type hasn't been determined yet.
	NATTypeUnknown NATType = iota
	// NATTypeNone means no NAT is present (public IP).
	NATTypeNone
	// NATTypeCone means a cone NAT is present: the external mapping is
	// stable across destinations, so hole punching works.
	NATTypeCone
	// NATTypeRestricted means an address-restricted NAT is present.
	NATTypeRestricted
	// NATTypePortRestricted means a port-restricted NAT is present.
	NATTypePortRestricted
	// NATTypeSymmetric means a symmetric NAT is present: the external
	// port differs per destination, so direct punching cannot work and
	// traffic must fall back to a relay.
	NATTypeSymmetric
)

// String returns a human-readable name for the NAT type.
func (nt NATType) String() string {
	switch nt {
	case NATTypeUnknown:
		return "Unknown"
	case NATTypeNone:
		return "None (Public IP)"
	case NATTypeCone:
		return "Cone NAT"
	case NATTypeRestricted:
		return "Restricted NAT"
	case NATTypePortRestricted:
		return "Port-Restricted NAT"
	case NATTypeSymmetric:
		return "Symmetric NAT"
	default:
		return "Invalid"
	}
}

// SupportsPunching reports whether a direct hole punch has a chance of
// succeeding through this NAT type.
func (nt NATType) SupportsPunching() bool {
	switch nt {
	case NATTypeNone, NATTypeCone, NATTypeRestricted, NATTypePortRestricted:
		return true
	case NATTypeSymmetric:
		return false
	default:
		// Unknown is optimistic: punching is attempted and relay is
		// the fallback when attempts are exhausted.
		return true
	}
}
