package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeLTMStore struct {
	entries  []MemoryEntry
	imported []MemoryEntry
}

func (f *fakeLTMStore) ExportLTM() []MemoryEntry { return f.entries }
func (f *fakeLTMStore) ImportLTM(entries []MemoryEntry) int {
	f.imported = entries
	return len(entries)
}

func TestHandleAdminLTM_GetReturnsEntries(t *testing.T) {
	store := &fakeLTMStore{entries: []MemoryEntry{{ID: "e1", Scope: "s", Key: "k", Value: "v"}}}
	s, err := New(Config{LTM: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/ltm")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got []MemoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestHandleAdminLTM_PostImportsEntries(t *testing.T) {
	store := &fakeLTMStore{}
	s, err := New(Config{LTM: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal([]MemoryEntry{{ID: "e2", Scope: "s", Key: "k", Value: "v"}})
	resp, err := http.Post(srv.URL+"/admin/ltm", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(store.imported) != 1 || store.imported[0].ID != "e2" {
		t.Fatalf("unexpected imported entries: %+v", store.imported)
	}
}

func TestHandleAdminLTM_UnavailableWithoutStore(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/ltm")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
