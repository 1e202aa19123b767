package main

import (
	"testing"
	"time"

	"github.com/cortexos/kernel/internal/contextmgr"
	"github.com/cortexos/kernel/internal/gateway"
)

func TestLTMAdapter_RoundTripsEntries(t *testing.T) {
	mgr := contextmgr.NewManager(contextmgr.Config{STMCapacity: 10, LTMCapacity: 10}, nil, nil)
	mgr.Store("scope-a", "key-a", "value-a", contextmgr.StoreOptions{Tier: contextmgr.TierLTM})

	a := ltmAdapter{mgr: mgr}
	exported := a.ExportLTM()
	if len(exported) != 1 || exported[0].Value != "value-a" {
		t.Fatalf("unexpected export: %+v", exported)
	}

	imported := a.ImportLTM([]gateway.MemoryEntry{
		{ID: "e-imported", Scope: "scope-b", Key: "key-b", Value: "value-b", CreatedAt: time.Now(), LastAccessedAt: time.Now()},
	})
	if imported != 1 {
		t.Fatalf("expected 1 imported, got %d", imported)
	}
}
