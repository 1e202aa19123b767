package federation

import (
	"context"
	"sort"
	"time"

	"github.com/cortexos/kernel/internal/bus"
)

// syncWithPeer implements the 3-step sync protocol (spec.md §4.6 "Sync
// protocol"): send our non-expired records, merge the peer's records
// back using mergeFederated's local-wins rule. For an untrusted peer the
// records in its sync-response are never merged into the local registry
// and the returned count is 0 (spec.md §8 scenario 6); handleSyncRequest
// likewise answers an untrusted peer's sync-request without merging the
// records it offers.
func (f *Federation) syncWithPeer(ctx context.Context, peerID string) (int, error) {
	peer, ok := f.peers.get(peerID)
	if !ok {
		return 0, ErrPeerNotFound
	}

	now := time.Now()
	req := newMessage(MsgSyncRequest, f.cfg.PeerID, syncRequestPayload{
		Records: f.registry.NonExpired(now),
	})

	reply, err := f.sendCADP(ctx, peer.URL, req)
	if err != nil {
		peer.Status = PeerError
		f.publish(peer.ID, peer.Status)
		return 0, err
	}

	if peer.Trust == TrustUntrusted {
		peer.LastSync = now
		return 0, nil
	}

	payload, ok := decodePayload[syncResponsePayload](reply.Payload)
	if !ok {
		return 0, nil
	}

	merged := 0
	for _, rec := range payload.Records {
		if f.registry.mergeFederated(rec, peer.ID, now) {
			merged++
		}
	}
	peer.LastSync = now
	peer.Status = PeerConnected
	if f.cfg.Bus != nil {
		f.cfg.Bus.Publish(bus.TopicPeerSynced, bus.FederationPeerEvent{PeerID: peer.ID, Status: string(peer.Status)})
	}
	if merged > 0 && f.cfg.Bus != nil {
		f.cfg.Bus.Publish(bus.TopicRecordFederated, bus.FederationPeerEvent{PeerID: peer.ID, Status: "merged"})
	}
	return merged, nil
}

// syncAll runs syncWithPeer against every admitted peer, ignoring
// individual peer failures (spec.md §9: "PeerUnreachable ... never
// propagated to the caller").
func (f *Federation) syncAll(ctx context.Context) {
	for _, p := range f.peers.list() {
		if _, err := f.syncWithPeer(ctx, p.ID); err != nil {
			f.logger.Warn("federation sync failed", "peer", p.ID, "error", err)
		}
	}
}

func (f *Federation) handleSyncRequest(msg Message) Message {
	now := time.Now()
	payload, ok := decodePayload[syncRequestPayload](msg.Payload)

	if peer, found := f.peers.get(msg.Source); found && ok && peer.Trust != TrustUntrusted {
		for _, rec := range payload.Records {
			f.registry.mergeFederated(rec, msg.Source, now)
		}
	}

	return newMessage(MsgSyncResponse, f.cfg.PeerID, syncResponsePayload{
		Records: f.registry.NonExpired(now),
	})
}

// federatedLookup races every connected peer's /cadp lookup in parallel
// and takes the first "found: true" response, caching it locally with a
// capped TTL (spec.md §4.6 "Federated lookup"). A peer that errors or
// times out is treated as a miss, never surfaced to the caller.
func (f *Federation) federatedLookup(ctx context.Context, agentID string) (Record, bool) {
	if rec, ok := f.registry.Get(agentID, time.Now()); ok {
		return rec, true
	}

	peers := f.peers.connected()
	if len(peers) == 0 {
		return Record{}, false
	}

	type result struct {
		rec   Record
		found bool
	}
	results := make(chan result, len(peers))

	for _, p := range peers {
		go func(p *Peer) {
			reply, err := f.sendCADP(ctx, p.URL, newMessage(MsgLookup, f.cfg.PeerID, lookupPayload{AgentID: agentID}))
			if err != nil {
				p.Status = PeerError
				results <- result{}
				return
			}
			payload, ok := decodePayload[lookupResponsePayload](reply.Payload)
			if !ok || !payload.Found || payload.Record == nil {
				results <- result{}
				return
			}
			results <- result{rec: *payload.Record, found: true}
		}(p)
	}

	for range peers {
		r := <-results
		if r.found {
			f.registry.cacheFederatedLookup(r.rec, time.Now())
			return r.rec, true
		}
	}
	return Record{}, false
}

func (f *Federation) handleLookup(msg Message) Message {
	payload, ok := decodePayload[lookupPayload](msg.Payload)
	if !ok {
		return newMessage(MsgLookupResponse, f.cfg.PeerID, lookupResponsePayload{Found: false})
	}
	rec, found := f.registry.Get(payload.AgentID, time.Now())
	if !found {
		return newMessage(MsgLookupResponse, f.cfg.PeerID, lookupResponsePayload{Found: false})
	}
	return newMessage(MsgLookupResponse, f.cfg.PeerID, lookupResponsePayload{Found: true, Record: &rec})
}

// federatedSearch seeds the result set with local matches, fans out a
// search message to every connected peer in parallel, and merges the
// peer matches in by agent id with local records winning ties, before
// sorting ascending by priority (spec.md §4.6 "Federated search"). A
// peer that errors or times out simply contributes no records.
func (f *Federation) federatedSearch(ctx context.Context, capability string) []Record {
	now := time.Now()
	merged := make(map[string]Record)
	for _, rec := range f.registry.SearchByCapability(capability, now) {
		merged[rec.AgentID] = rec
	}

	peers := f.peers.connected()
	if len(peers) > 0 {
		type peerMatches struct {
			peerID  string
			records []Record
		}
		results := make(chan peerMatches, len(peers))
		for _, p := range peers {
			go func(p *Peer) {
				reply, err := f.sendCADP(ctx, p.URL, newMessage(MsgSearch, f.cfg.PeerID, searchPayload{Capability: capability}))
				if err != nil {
					p.Status = PeerError
					results <- peerMatches{peerID: p.ID}
					return
				}
				payload, ok := decodePayload[searchResponsePayload](reply.Payload)
				if !ok {
					results <- peerMatches{peerID: p.ID}
					return
				}
				results <- peerMatches{peerID: p.ID, records: payload.Records}
			}(p)
		}
		for range peers {
			pm := <-results
			for _, rec := range pm.records {
				if _, exists := merged[rec.AgentID]; exists {
					continue
				}
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]any)
				}
				rec.Metadata["_federatedFrom"] = pm.peerID
				merged[rec.AgentID] = rec
			}
		}
	}

	out := make([]Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		_, iFederated := out[i].federatedFrom()
		_, jFederated := out[j].federatedFrom()
		return !iFederated && jFederated
	})
	return out
}

// handleSearch answers a peer's capability search against our own
// local registry (spec.md §4.6 "Federated search").
func (f *Federation) handleSearch(msg Message) Message {
	payload, ok := decodePayload[searchPayload](msg.Payload)
	if !ok {
		return newMessage(MsgSearchResponse, f.cfg.PeerID, searchResponsePayload{})
	}
	return newMessage(MsgSearchResponse, f.cfg.PeerID, searchResponsePayload{
		Records: f.registry.SearchByCapability(payload.Capability, time.Now()),
	})
}
