package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexos/kernel/internal/contextmgr"
)

func TestExportImport_RoundTripsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now().Truncate(time.Second)
	entries := []contextmgr.Entry{
		{
			ID:             "e1",
			Tier:           contextmgr.TierLTM,
			Scope:          "project-x",
			Key:            "preference",
			Value:          "prefers terse output",
			Tags:           []string{"style"},
			Keywords:       []string{"terse", "output"},
			Importance:     0.8,
			QValue:         1.2,
			AccessCount:    3,
			CreatedAt:      now,
			LastAccessedAt: now,
		},
		{
			ID:             "e2",
			Tier:           contextmgr.TierLTM,
			Scope:          "project-x",
			Key:            "fact",
			Value:          "uses go 1.24",
			CreatedAt:      now,
			LastAccessedAt: now,
		},
	}

	if err := s.Export(context.Background(), entries); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got, err := s.Import(context.Background())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Value != "prefers terse output" || len(got[0].Tags) != 1 || got[0].Tags[0] != "style" {
		t.Fatalf("unexpected entry 0: %+v", got[0])
	}
	if got[1].Key != "fact" {
		t.Fatalf("unexpected entry 1: %+v", got[1])
	}
}

func TestExport_ReplacesPriorContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now()
	if err := s.Export(context.Background(), []contextmgr.Entry{
		{ID: "first", Scope: "s", Key: "k", Value: "v", CreatedAt: now, LastAccessedAt: now},
	}); err != nil {
		t.Fatalf("first Export: %v", err)
	}
	if err := s.Export(context.Background(), []contextmgr.Entry{
		{ID: "second", Scope: "s", Key: "k", Value: "v2", CreatedAt: now, LastAccessedAt: now},
	}); err != nil {
		t.Fatalf("second Export: %v", err)
	}

	got, err := s.Import(context.Background())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(got) != 1 || got[0].ID != "second" {
		t.Fatalf("expected only 'second' to survive, got %+v", got)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "snapshot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
}
