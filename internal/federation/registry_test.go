package federation

import (
	"testing"
	"time"
)

func TestRegistry_RegisterStampsExpiryFromTTL(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Register(Record{AgentID: "a1", TTLSeconds: 30}, now)

	rec, ok := r.Get("a1", now.Add(10*time.Second))
	if !ok {
		t.Fatal("expected record to still be valid")
	}
	if !rec.ExpiresAt.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("expiresAt = %v, want %v", rec.ExpiresAt, now.Add(30*time.Second))
	}

	if _, ok := r.Get("a1", now.Add(31*time.Second)); ok {
		t.Fatal("expected record to be expired")
	}
}

func TestRegistry_ZeroTTLNeverExpires(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register(Record{AgentID: "a1"}, now)

	if _, ok := r.Get("a1", now.Add(365*24*time.Hour)); !ok {
		t.Fatal("record with no TTL should never expire")
	}
}

func TestRegistry_MergeFederated_InsertsAbsentRecord(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	ok := r.mergeFederated(Record{AgentID: "remote-1", Capabilities: []string{"search"}}, "peer-a", now)
	if !ok {
		t.Fatal("expected insert to succeed for an absent record")
	}
	rec, found := r.Get("remote-1", now)
	if !found {
		t.Fatal("expected record to be registered")
	}
	origin, isFederated := rec.federatedFrom()
	if !isFederated || origin != "peer-a" {
		t.Fatalf("expected federatedFrom = peer-a, got %q (federated=%v)", origin, isFederated)
	}
}

func TestRegistry_MergeFederated_NeverOverwritesLocalRecord(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register(Record{AgentID: "local-1", Capabilities: []string{"summarize"}}, now)

	ok := r.mergeFederated(Record{AgentID: "local-1", Capabilities: []string{"hijacked"}}, "peer-a", now)
	if ok {
		t.Fatal("expected merge to refuse overwriting a non-federated local record")
	}
	rec, _ := r.Get("local-1", now)
	if len(rec.Capabilities) != 1 || rec.Capabilities[0] != "summarize" {
		t.Fatalf("local record was overwritten: %+v", rec)
	}
}

func TestRegistry_MergeFederated_UpdatesOnlyFromSameOriginPeer(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.mergeFederated(Record{AgentID: "remote-1"}, "peer-a", now)

	if ok := r.mergeFederated(Record{AgentID: "remote-1", Priority: 5}, "peer-b", now); ok {
		t.Fatal("expected merge from a different peer to be refused")
	}
	if ok := r.mergeFederated(Record{AgentID: "remote-1", Priority: 5}, "peer-a", now); !ok {
		t.Fatal("expected merge from the same origin peer to succeed")
	}
	rec, _ := r.Get("remote-1", now)
	if rec.Priority != 5 {
		t.Fatalf("expected updated priority 5, got %d", rec.Priority)
	}
}

func TestRegistry_CacheFederatedLookup_CapsTTLAt300s(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.cacheFederatedLookup(Record{AgentID: "remote-2", TTLSeconds: 10000}, now)

	rec, _ := r.Get("remote-2", now)
	if rec.ExpiresAt.After(now.Add(300 * time.Second).Add(time.Second)) {
		t.Fatalf("expiresAt %v exceeds the 300s cap", rec.ExpiresAt)
	}
}

func TestRegistry_SearchByCapability(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register(Record{AgentID: "a1", Capabilities: []string{"search", "summarize"}}, now)
	r.Register(Record{AgentID: "a2", Capabilities: []string{"translate"}}, now)

	matches := r.SearchByCapability("search", now)
	if len(matches) != 1 || matches[0].AgentID != "a1" {
		t.Fatalf("expected exactly a1, got %+v", matches)
	}
}
