// Package contextmgr implements the two-tier, value-weighted memory
// manager described in spec.md §4.2: a short-term store and a long-term
// store, Q-learning-driven retention, and lossy compression of low-value
// entries into knowledge blocks. It is purely in-process; nothing here
// touches disk except through the explicit ExportLTM/ImportLTM round trip.
package contextmgr

import "time"

// Tier names which of the two bounded stores an Entry lives in.
type Tier string

const (
	TierSTM Tier = "stm"
	TierLTM Tier = "ltm"
)

// Entry is a single memory record (spec.md §4.2 "Stores").
type Entry struct {
	ID             string
	Tier           Tier
	Scope          string
	Key            string
	Value          string
	Tags           []string
	Keywords       []string
	Importance     float64
	QValue         float64
	AccessCount    int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// StoreOptions carries the optional arguments to Manager.Store.
type StoreOptions struct {
	Tier       Tier // destination tier for a new entry; defaults to TierSTM
	Tags       []string
	Importance *float64 // defaults to 0.5 for new entries
}

// RetrieveOptions carries the optional arguments to Manager.Retrieve.
type RetrieveOptions struct {
	Scope    string // empty matches every scope
	Tags     []string
	TopK     int     // defaults to 10
	MinScore float64 // entries scoring at or below this are dropped
}

// ScoredEntry pairs a retrieved entry with the composite score that ranked
// it (spec.md §4.2 "Retrieve").
type ScoredEntry struct {
	Entry Entry
	Score float64
}

// KnowledgeBlock is the lossy summary Compress produces from the bottom
// slice of STM by q-value (spec.md §3 "KnowledgeBlock"). CompressionRatio
// is the summary's byte length over the combined byte length of the
// source entries it replaced.
type KnowledgeBlock struct {
	ID               string
	Summary          string
	SourceIDs        []string
	CreatedAt        time.Time
	CompressionRatio float64
}
