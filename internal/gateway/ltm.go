package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// MemoryEntry mirrors internal/contextmgr.Entry's shape (spec.md §6); the
// Gateway stays decoupled from the Context Manager package itself, so it
// declares its own copy and relies on LTMStore to do the translation.
type MemoryEntry struct {
	ID             string    `json:"id"`
	Scope          string    `json:"scope"`
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	Tags           []string  `json:"tags,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	Importance     float64   `json:"importance"`
	QValue         float64   `json:"qValue"`
	AccessCount    int       `json:"accessCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// LTMStore is the narrow interface the Context Manager's long-term tier
// satisfies, letting /admin/ltm serve cortexctl's snapshot export/import
// without the Gateway importing internal/contextmgr (spec.md §2).
type LTMStore interface {
	ExportLTM() []MemoryEntry
	ImportLTM(entries []MemoryEntry) int
}

// handleAdminLTM implements GET/POST /admin/ltm, the plumbing
// cortexctl's "snapshot export"/"snapshot import" subcommands talk to.
func (s *Server) handleAdminLTM(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LTM == nil {
		http.Error(w, "ltm store unavailable", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.cfg.LTM.ExportLTM())
	case http.MethodPost:
		var entries []MemoryEntry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		n := s.cfg.LTM.ImportLTM(entries)
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
