package contextmgr

import (
	"testing"

	"github.com/cortexos/kernel/internal/bus"
)

func TestStore_UpdatesInPlaceWithoutEviction(t *testing.T) {
	m := NewManager(DefaultConfig(), bus.New(), nil)
	m.Store("proj", "lang", "Go", StoreOptions{})
	first := m.Retrieve("Go", RetrieveOptions{Scope: "proj"})
	if len(first) != 1 {
		t.Fatalf("expected one entry, got %d", len(first))
	}

	m.Store("proj", "lang", "Rust", StoreOptions{})
	second := m.Retrieve("Rust", RetrieveOptions{Scope: "proj"})
	if len(second) != 1 {
		t.Fatalf("expected still one entry after update, got %d", len(second))
	}
	if second[0].Entry.Value != "Rust" {
		t.Fatalf("expected updated value, got %q", second[0].Entry.Value)
	}
}

func TestStore_EvictsLowestQValueWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STMCapacity = 2
	m := NewManager(cfg, bus.New(), nil)

	low := 0.1
	high := 0.9
	m.Store("s", "a", "alpha content", StoreOptions{Importance: &low})
	m.Store("s", "b", "beta content", StoreOptions{Importance: &high})
	m.Store("s", "c", "gamma content", StoreOptions{Importance: &high})

	if _, ok := m.scopeIndex[scopeKey("s", "a")]; ok {
		t.Fatalf("expected lowest-importance entry 'a' to have been evicted")
	}
	if len(m.stm) != 2 {
		t.Fatalf("expected stm capacity respected, got %d entries", len(m.stm))
	}
}

func TestUpdateQ_ClampsAndPromotes(t *testing.T) {
	m := NewManager(DefaultConfig(), bus.New(), nil)
	entry := m.Store("s", "k", "value text here", StoreOptions{})

	for i := 0; i < 20; i++ {
		q, err := m.UpdateQ(entry.ID, 1.0)
		if err != nil {
			t.Fatalf("updateQ: %v", err)
		}
		if q < 0 || q > 1 {
			t.Fatalf("q out of bounds: %f", q)
		}
	}

	if _, ok := m.stm[entry.ID]; ok {
		t.Fatalf("expected entry to have been promoted out of stm")
	}
	if _, ok := m.ltm[entry.ID]; !ok {
		t.Fatalf("expected entry present in ltm after promotion")
	}
}

func TestRetrieve_FiltersByScopeAndTags(t *testing.T) {
	m := NewManager(DefaultConfig(), bus.New(), nil)
	m.Store("a", "k1", "go programming language", StoreOptions{Tags: []string{"lang"}})
	m.Store("b", "k2", "go programming language", StoreOptions{Tags: []string{"other"}})

	results := m.Retrieve("go programming", RetrieveOptions{Scope: "a", Tags: []string{"lang"}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Entry.Scope != "a" {
		t.Fatalf("expected scope 'a', got %q", results[0].Entry.Scope)
	}
}

func TestCompress_RequiresAtLeastTwoCandidates(t *testing.T) {
	m := NewManager(DefaultConfig(), bus.New(), nil)
	if block := m.Compress(); block != nil {
		t.Fatalf("expected nil block with no entries")
	}
	m.Store("s", "only", "a single entry", StoreOptions{})
	if block := m.Compress(); block != nil {
		t.Fatalf("expected nil block with one entry")
	}
}

func TestCompress_RemovesSourcesAndProducesSummary(t *testing.T) {
	m := NewManager(DefaultConfig(), bus.New(), nil)
	for i := 0; i < 5; i++ {
		imp := 0.1 * float64(i)
		m.Store("s", keyFor(i), "some memory content about task "+keyFor(i), StoreOptions{Importance: &imp})
	}

	block := m.Compress()
	if block == nil {
		t.Fatalf("expected a knowledge block")
	}
	if len(block.SourceIDs) != 1 {
		t.Fatalf("expected floor(5*0.3)=1 source id, got %d", len(block.SourceIDs))
	}
	if len(m.stm) != 4 {
		t.Fatalf("expected 4 remaining stm entries, got %d", len(m.stm))
	}
	// The lowest-q entry is "a" (importance 0). Its summary adds a "[a]: "
	// prefix and is not truncated, so the ratio is 37/32, above 1.
	if block.Summary != "[a]: some memory content about task a" {
		t.Fatalf("unexpected summary: %q", block.Summary)
	}
	if want := 37.0 / 32.0; block.CompressionRatio != want {
		t.Fatalf("expected a compression ratio of %v, got %v", want, block.CompressionRatio)
	}
}

func keyFor(i int) string {
	return string(rune('a' + i))
}

func TestExportImportLTM_RoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, bus.New(), nil)

	entry := m.Store("s", "k", "long term fact", StoreOptions{Tier: TierLTM})
	exported := m.ExportLTM()
	if len(exported) != 1 || exported[0].ID != entry.ID {
		t.Fatalf("unexpected export: %+v", exported)
	}

	fresh := NewManager(cfg, bus.New(), nil)
	imported := fresh.ImportLTM(exported)
	if imported != 1 {
		t.Fatalf("expected 1 imported, got %d", imported)
	}
	roundTripped := fresh.ExportLTM()
	if len(roundTripped) != 1 || roundTripped[0].ID != entry.ID {
		t.Fatalf("round trip mismatch: %+v", roundTripped)
	}
}

func TestImportLTM_SkipsOnceCapReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LTMCapacity = 1
	m := NewManager(cfg, bus.New(), nil)

	imported := m.ImportLTM([]Entry{
		{ID: "1", Tier: TierLTM, Scope: "s", Key: "a", Value: "x"},
		{ID: "2", Tier: TierLTM, Scope: "s", Key: "b", Value: "y"},
	})
	if imported != 1 {
		t.Fatalf("expected exactly 1 import under cap, got %d", imported)
	}
}
