package main

import (
	"github.com/cortexos/kernel/internal/contextmgr"
	"github.com/cortexos/kernel/internal/gateway"
)

// ltmAdapter satisfies gateway.LTMStore over a *contextmgr.Manager,
// translating between the Gateway's decoupled MemoryEntry and the
// Context Manager's own Entry so neither package imports the other.
type ltmAdapter struct {
	mgr *contextmgr.Manager
}

func (a ltmAdapter) ExportLTM() []gateway.MemoryEntry {
	entries := a.mgr.ExportLTM()
	out := make([]gateway.MemoryEntry, len(entries))
	for i, e := range entries {
		out[i] = gateway.MemoryEntry{
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
	return out
}

func (a ltmAdapter) ImportLTM(entries []gateway.MemoryEntry) int {
	converted := make([]contextmgr.Entry, len(entries))
	for i, e := range entries {
		converted[i] = contextmgr.Entry{
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
	return a.mgr.ImportLTM(converted)
}
