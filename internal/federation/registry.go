package federation

import (
	"sync"
	"time"
)

// Registry is the local agent-discovery store: a concurrency-safe map
// keyed by agent id (spec.md §3 "AgentDNSRecord").
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Register inserts or replaces a record, stamping ExpiresAt from its TTL
// (spec.md §3 invariant: "expiresAt = createdAt + TTL*1000").
func (r *Registry) Register(rec Record, now time.Time) {
	if rec.TTLSeconds > 0 {
		rec.ExpiresAt = now.Add(time.Duration(rec.TTLSeconds) * time.Second)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.AgentID] = rec
}

// Get returns a non-expired record, if present.
func (r *Registry) Get(agentID string, now time.Time) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[agentID]
	if !ok || rec.expired(now) {
		return Record{}, false
	}
	return rec, true
}

// NonExpired returns every currently-valid local record.
func (r *Registry) NonExpired(now time.Time) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.expired(now) {
			out = append(out, rec)
		}
	}
	return out
}

// SearchByCapability returns every non-expired local record advertising
// capability.
func (r *Registry) SearchByCapability(capability string, now time.Time) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, rec := range r.records {
		if rec.expired(now) {
			continue
		}
		for _, c := range rec.Capabilities {
			if c == capability {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// mergeFederated implements the sync-response merge rule (spec.md §4.6
// "Sync protocol" step 3): only inserts if no local record exists, or
// updates an existing record if it was itself federated from this peer;
// never overwrites a non-federated local record.
func (r *Registry) mergeFederated(rec Record, fromPeerID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.records[rec.AgentID]
	if exists {
		origin, isFederated := existing.federatedFrom()
		if !isFederated || origin != fromPeerID {
			return false
		}
	}

	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	rec.Metadata["_federatedFrom"] = fromPeerID
	rec.Metadata["_federatedAt"] = now
	if rec.TTLSeconds > 0 && rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(time.Duration(rec.TTLSeconds) * time.Second)
	}
	r.records[rec.AgentID] = rec
	return true
}

// cacheFederatedLookup caches a winning federatedLookup result with TTL
// capped at 300 seconds (spec.md §4.6 "Federated lookup").
func (r *Registry) cacheFederatedLookup(rec Record, now time.Time) {
	const maxTTL = 300 * time.Second
	ttl := time.Duration(rec.TTLSeconds) * time.Second
	if rec.TTLSeconds <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	rec.Metadata["_federatedLookup"] = true
	rec.ExpiresAt = now.Add(ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.AgentID] = rec
}
