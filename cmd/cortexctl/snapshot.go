package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cortexos/kernel/internal/contextmgr"
	"github.com/cortexos/kernel/internal/gateway"
	"github.com/cortexos/kernel/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up or restore the Context Manager's long-term memory",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the running daemon's LTM entries to a SQLite file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [path]",
	Short: "Import LTM entries from a SQLite file into the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotImport,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Get(serverAddr + "/admin/ltm")
	if err != nil {
		return fmt.Errorf("fetch ltm entries: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	var wire []gateway.MemoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("decode ltm entries: %w", err)
	}

	store, err := snapshot.Open(args[0])
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer store.Close()

	entries := make([]contextmgr.Entry, len(wire))
	for i, e := range wire {
		entries[i] = contextmgr.Entry{
			ID:             e.ID,
			Tier:           contextmgr.TierLTM,
			Scope:          e.Scope,
			Key:            e.Key,
			Value:          e.Value,
			Tags:           e.Tags,
			Keywords:       e.Keywords,
			Importance:     e.Importance,
			QValue:         e.QValue,
			AccessCount:    e.AccessCount,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
		}
	}

	if err := store.Export(context.Background(), entries); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Printf("exported %d entries to %s\n", len(entries), args[0])
	return nil
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	store, err := snapshot.Open(args[0])
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer store.Close()

	entries, err := store.Import(context.Background())
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	wire := make([]gateway.MemoryEntry, len(entries))
	for i, e := range entries {
		wire[i] = gateway.MemoryEntry{
			ID:             e.ID,
			Scope:          e.Scope,
			Key:            e.Key,
			Value:          e.Value,
			Tags:           e.Tags,
			Keywords:       e.Keywords,
			Importance:     e.Importance,
			QValue:         e.QValue,
			AccessCount:    e.AccessCount,
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessedAt,
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}

	resp, err := httpClient.Post(serverAddr+"/admin/ltm", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post ltm entries: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	var result struct {
		Imported int `json:"imported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("imported %d entries from %s\n", result.Imported, args[0])
	return nil
}
