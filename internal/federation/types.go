// Package federation implements CADP Federation (spec.md §4.6): a
// horizontal agent-discovery mesh where peers gossip AgentDNSRecords on a
// fixed interval and serve federated lookup/search on demand.
package federation

import "time"

// TrustLevel gates whether a peer's records are merged into local state
// (spec.md §3 "FederationPeer").
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustPartial   TrustLevel = "partial"
	TrustFull      TrustLevel = "full"
)

// PeerStatus is a FederationPeer's connectivity state.
type PeerStatus string

const (
	PeerConnected    PeerStatus = "connected"
	PeerDisconnected PeerStatus = "disconnected"
	PeerSyncing      PeerStatus = "syncing"
	PeerError        PeerStatus = "error"
)

// Peer is a mesh member (spec.md §3 "FederationPeer").
type Peer struct {
	ID           string
	Name         string
	URL          string
	Trust        TrustLevel
	Capabilities []string
	LastSync     time.Time
	Status       PeerStatus
}

// Record is an agent-discovery entry (spec.md §3 "AgentDNSRecord").
type Record struct {
	AgentID      string
	Domain       string
	Endpoints    []string
	Capabilities []string
	TTLSeconds   int
	Priority     int
	Weight       int
	ExpiresAt    time.Time
	Metadata     map[string]any
}

func (r Record) expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

// federatedFrom returns the peer id this record was federated from, if
// any (metadata key "_federatedFrom" per spec.md §3 invariant).
func (r Record) federatedFrom() (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	v, ok := r.Metadata["_federatedFrom"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
