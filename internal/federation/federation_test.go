package federation

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFederation(t *testing.T, peerID string, maxPeers int) (*Federation, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PeerID = peerID
	cfg.PeerName = peerID + "-kernel"
	cfg.Capabilities = []string{"search", "summarize"}
	if maxPeers > 0 {
		cfg.MaxPeers = maxPeers
	}
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(f.Handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestAddPeer_HandshakeSucceedsAndPopulatesPeerInfo(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	_, betaSrv := newTestFederation(t, "beta", 0)

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if peer.ID != "beta" {
		t.Fatalf("expected peer id beta from handshake, got %q", peer.ID)
	}
	if peer.Status != PeerConnected {
		t.Fatalf("expected peer status connected, got %q", peer.Status)
	}
	if len(peer.Capabilities) != 2 {
		t.Fatalf("expected handshake to report 2 capabilities, got %v", peer.Capabilities)
	}
}

func TestAddPeer_RejectsDuplicateURL(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	_, betaSrv := newTestFederation(t, "beta", 0)

	if _, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull); err != nil {
		t.Fatalf("first AddPeer: %v", err)
	}
	if _, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull); err != ErrPeerExists {
		t.Fatalf("expected ErrPeerExists, got %v", err)
	}
}

func TestAddPeer_RejectsOverMaxPeers(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 1)
	_, betaSrv := newTestFederation(t, "beta", 0)
	_, gammaSrv := newTestFederation(t, "gamma", 0)

	if _, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull); err != nil {
		t.Fatalf("first AddPeer: %v", err)
	}
	if _, err := alpha.AddPeer(context.Background(), gammaSrv.URL, TrustFull); err != ErrPeerSetFull {
		t.Fatalf("expected ErrPeerSetFull, got %v", err)
	}
}

func TestAddPeer_UnreachablePeerStaysDisconnectedButIsAdmitted(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)

	peer, err := alpha.AddPeer(context.Background(), "http://127.0.0.1:1", TrustPartial)
	if err != nil {
		t.Fatalf("expected admission despite unreachable peer, got error: %v", err)
	}
	if peer.Status != PeerDisconnected {
		t.Fatalf("expected status disconnected, got %q", peer.Status)
	}
}

func TestSyncWithPeer_MergesRemoteRecords(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	beta, betaSrv := newTestFederation(t, "beta", 0)

	beta.Registry().Register(Record{AgentID: "beta-agent-1", Capabilities: []string{"search"}, Priority: 1}, time.Now())

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	merged, err := alpha.syncWithPeer(context.Background(), peer.ID)
	if err != nil {
		t.Fatalf("syncWithPeer: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 merged record, got %d", merged)
	}

	rec, ok := alpha.Registry().Get("beta-agent-1", time.Now())
	if !ok {
		t.Fatal("expected beta-agent-1 to be present in alpha's registry")
	}
	origin, isFederated := rec.federatedFrom()
	if !isFederated || origin != "beta" {
		t.Fatalf("expected federatedFrom = beta, got %q (federated=%v)", origin, isFederated)
	}
}

func TestSyncWithPeer_UntrustedCallerNeverMergesResponse(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	beta, betaSrv := newTestFederation(t, "beta", 0)
	beta.Registry().Register(Record{AgentID: "beta-agent-2"}, time.Now())

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustUntrusted)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	merged, err := alpha.syncWithPeer(context.Background(), peer.ID)
	if err != nil {
		t.Fatalf("syncWithPeer: %v", err)
	}
	if merged != 0 {
		t.Fatalf("expected 0 merged records for an untrusted peer, got %d", merged)
	}
	if _, ok := alpha.Registry().Get("beta-agent-2", time.Now()); ok {
		t.Fatal("expected beta-agent-2 to not be merged")
	}
}

// TestHandleSyncRequest_IgnoresRecordsFromUntrustedSource implements
// spec.md §8 scenario 6: a peer we trust as untrusted sends a
// sync-request offering a fresh record; our local registry must stay
// unchanged.
func TestHandleSyncRequest_IgnoresRecordsFromUntrustedSource(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	if err := alpha.peers.insert(&Peer{ID: "mallory", URL: "http://mallory.example", Trust: TrustUntrusted, Status: PeerConnected}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	msg := newMessage(MsgSyncRequest, "mallory", syncRequestPayload{
		Records: []Record{{AgentID: "injected-agent"}},
	})

	reply := alpha.handleSyncRequest(msg)
	if reply.Type != MsgSyncResponse {
		t.Fatalf("expected a sync-response, got %q", reply.Type)
	}
	if _, ok := alpha.Registry().Get("injected-agent", time.Now()); ok {
		t.Fatal("expected the untrusted peer's offered record to be rejected")
	}
}

func TestFederatedLookup_RacesPeersAndCachesFirstHit(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	beta, betaSrv := newTestFederation(t, "beta", 0)
	beta.Registry().Register(Record{AgentID: "remote-only", TTLSeconds: 20}, time.Now())

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	peer.Status = PeerConnected

	rec, found := alpha.federatedLookup(context.Background(), "remote-only")
	if !found {
		t.Fatal("expected federated lookup to find the remote record")
	}
	if rec.AgentID != "remote-only" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	cached, ok := alpha.Registry().Get("remote-only", time.Now())
	if !ok {
		t.Fatal("expected the lookup result to be cached locally")
	}
	if cached.ExpiresAt.After(time.Now().Add(301 * time.Second)) {
		t.Fatalf("cached TTL exceeds the 300s cap: %v", cached.ExpiresAt)
	}
}

func TestFederatedLookup_MissWhenNoPeerHasRecord(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	_, betaSrv := newTestFederation(t, "beta", 0)

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	peer.Status = PeerConnected

	if _, found := alpha.federatedLookup(context.Background(), "does-not-exist"); found {
		t.Fatal("expected a miss")
	}
}

func TestFederatedSearch_SortsAscendingByPriority(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	now := time.Now()
	alpha.Registry().Register(Record{AgentID: "low-priority", Capabilities: []string{"search"}, Priority: 9}, now)
	alpha.Registry().Register(Record{AgentID: "high-priority", Capabilities: []string{"search"}, Priority: 1}, now)

	results := alpha.federatedSearch(context.Background(), "search")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].AgentID != "high-priority" || results[1].AgentID != "low-priority" {
		t.Fatalf("expected ascending priority order, got %+v", results)
	}
}

func TestFederatedSearch_FansOutToPeersAndLocalWinsTies(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	beta, betaSrv := newTestFederation(t, "beta", 0)

	now := time.Now()
	alpha.Registry().Register(Record{AgentID: "shared-agent", Capabilities: []string{"search"}, Priority: 5, Endpoints: []string{"local"}}, now)
	beta.Registry().Register(Record{AgentID: "shared-agent", Capabilities: []string{"search"}, Priority: 5, Endpoints: []string{"remote"}}, now)
	beta.Registry().Register(Record{AgentID: "remote-only", Capabilities: []string{"search"}, Priority: 1}, now)

	peer, err := alpha.AddPeer(context.Background(), betaSrv.URL, TrustFull)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	peer.Status = PeerConnected

	results := alpha.federatedSearch(context.Background(), "search")
	if len(results) != 2 {
		t.Fatalf("expected 2 merged results, got %+v", results)
	}
	if results[0].AgentID != "remote-only" || results[1].AgentID != "shared-agent" {
		t.Fatalf("expected ascending priority order, got %+v", results)
	}
	if results[1].Endpoints[0] != "local" {
		t.Fatalf("expected the local record to win the agent-id tie, got %+v", results[1])
	}
}

func TestSchedulerConstruction_RejectsInvalidCronExpression(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	if _, err := newSyncScheduler(alpha, 0, "not a cron expression"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestSchedulerConstruction_DefaultsIntervalWhenUnset(t *testing.T) {
	alpha, _ := newTestFederation(t, "alpha", 0)
	s, err := newSyncScheduler(alpha, 0, "")
	if err != nil {
		t.Fatalf("newSyncScheduler: %v", err)
	}
	if s.interval != 60*time.Second {
		t.Fatalf("expected default interval of 60s, got %v", s.interval)
	}
}
