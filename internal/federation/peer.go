package federation

import (
	"context"
	"fmt"
	"sync"
)

// ErrPeerSetFull is returned by AddPeer once |peers| >= maxPeers.
var ErrPeerSetFull = fmt.Errorf("federation: peer set is full")

// ErrPeerExists is returned by AddPeer for a duplicate URL.
var ErrPeerExists = fmt.Errorf("federation: peer with this URL already exists")

// ErrPeerNotFound is returned by syncWithPeer for an unknown peer id.
var ErrPeerNotFound = fmt.Errorf("federation: peer not found")

type peerSet struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	maxSize int
}

func newPeerSet(maxSize int) *peerSet {
	return &peerSet{peers: make(map[string]*Peer), maxSize: maxSize}
}

func (ps *peerSet) byURL(url string) (*Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, p := range ps.peers {
		if p.URL == url {
			return p, true
		}
	}
	return nil, false
}

func (ps *peerSet) get(id string) (*Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

func (ps *peerSet) list() []*Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	return out
}

func (ps *peerSet) connected() []*Peer {
	var out []*Peer
	for _, p := range ps.list() {
		if p.Status == PeerConnected {
			out = append(out, p)
		}
	}
	return out
}

func (ps *peerSet) count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

func (ps *peerSet) insert(p *Peer) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.peers) >= ps.maxSize {
		return ErrPeerSetFull
	}
	ps.peers[p.ID] = p
	return nil
}

// AddPeer implements spec.md §4.6 "Peer admission": refuses if the peer
// set is full or a peer with the same URL already exists, otherwise
// performs a health-check handshake.
func (f *Federation) AddPeer(ctx context.Context, url string, trust TrustLevel) (*Peer, error) {
	if _, ok := f.peers.byURL(url); ok {
		return nil, ErrPeerExists
	}
	if f.peers.count() >= f.peers.maxSize {
		return nil, ErrPeerSetFull
	}
	if trust == "" {
		trust = TrustPartial
	}

	peer := &Peer{URL: url, Trust: trust, Status: PeerDisconnected}

	reply, err := f.sendCADP(ctx, url, newMessage(MsgHealthCheck, f.cfg.PeerID, nil))
	if err != nil {
		if insertErr := f.peers.insert(peer); insertErr != nil {
			return nil, insertErr
		}
		return peer, nil
	}

	if reply.Type == MsgHealthResponse {
		if payload, ok := decodePayload[healthResponsePayload](reply.Payload); ok {
			peer.ID = payload.PeerID
			peer.Name = payload.PeerName
			peer.Capabilities = payload.Capabilities
			peer.Status = PeerConnected
		}
	}
	if peer.ID == "" {
		peer.ID = url
	}

	if err := f.peers.insert(peer); err != nil {
		return nil, err
	}
	f.publish(peer.ID, peer.Status)
	return peer, nil
}

func (f *Federation) handleHealthCheck(msg Message) Message {
	return newMessage(MsgHealthResponse, f.cfg.PeerID, healthResponsePayload{
		PeerID:       f.cfg.PeerID,
		PeerName:     f.cfg.PeerName,
		Capabilities: f.cfg.Capabilities,
	})
}

// decodePayload best-effort re-decodes a message payload (arriving as a
// generic map[string]any after JSON round-trip) into T.
func decodePayload[T any](payload any) (T, bool) {
	var out T
	data, err := marshalAny(payload)
	if err != nil {
		return out, false
	}
	if err := unmarshalInto(data, &out); err != nil {
		return out, false
	}
	return out, true
}
