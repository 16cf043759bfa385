package models

import "fmt"

// TransitKind says how the byte stream reached the peer.
type TransitKind string

const (
	TransitDirect  TransitKind = "direct"
	TransitRelay   TransitKind = "relay"
	TransitUnknown TransitKind = "unknown"
)

// TransitInfo describes an established transit connection.
type TransitInfo struct {
	Kind      TransitKind `json:"kind"`
	RelayName string      `json:"relay_name,omitempty"`
	PeerAddr  string      `json:"peer_addr"`
}

// ConnectionType renders the kind the way history records store it.
func (t TransitInfo) ConnectionType() string {
	switch t.Kind {
	case TransitDirect:
		return "direct"
	case TransitRelay:
		if t.RelayName != "" {
			return fmt.Sprintf("relay (%s)", t.RelayName)
		}
		return "relay"
	default:
		return "unknown"
	}
}

// RelayHint points the transport at a relay it may fall back to.
type RelayHint struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}
