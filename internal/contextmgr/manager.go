package contextmgr

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/bus"
)

const knowledgeBlockCapacity = 200

// Manager is the two-tier memory store described in spec.md §4.2.
type Manager struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	mu         sync.Mutex
	stm        map[string]*Entry
	ltm        map[string]*Entry
	scopeIndex map[string]string // "scope\x00key" -> id
	tagIndex   map[string]map[string]struct{}
	blocks     []KnowledgeBlock
}

// NewManager builds an empty Manager.
func NewManager(cfg Config, eventBus *bus.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		bus:        eventBus,
		logger:     logger,
		stm:        make(map[string]*Entry),
		ltm:        make(map[string]*Entry),
		scopeIndex: make(map[string]string),
		tagIndex:   make(map[string]map[string]struct{}),
	}
}

func scopeKey(scope, key string) string {
	return scope + "\x00" + key
}

func (m *Manager) storeFor(tier Tier) map[string]*Entry {
	if tier == TierLTM {
		return m.ltm
	}
	return m.stm
}

// Store implements spec.md §4.2 "Store semantics": update-in-place for an
// existing (scope, key), else evict-then-insert into the target tier.
func (m *Manager) Store(scope, key, value string, opts StoreOptions) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sk := scopeKey(scope, key)
	if id, ok := m.scopeIndex[sk]; ok {
		entry := m.stm[id]
		if entry == nil {
			entry = m.ltm[id]
		}
		entry.Value = value
		entry.LastAccessedAt = now
		if opts.Importance != nil {
			entry.Importance = *opts.Importance
		}
		m.reindexTags(entry, opts.Tags)
		return *entry
	}

	tier := opts.Tier
	if tier == "" {
		tier = TierSTM
	}
	importance := 0.5
	if opts.Importance != nil {
		importance = *opts.Importance
	}

	dest := m.storeFor(tier)
	if len(dest) >= m.cfg.capacity(tier) {
		m.evictLowestQLocked(tier)
	}

	entry := &Entry{
		ID:             uuid.NewString(),
		Tier:           tier,
		Scope:          scope,
		Key:            key,
		Value:          value,
		Tags:           opts.Tags,
		Keywords:       extractKeywords(value),
		Importance:     importance,
		QValue:         importance,
		AccessCount:    0,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	dest[entry.ID] = entry
	m.scopeIndex[sk] = entry.ID
	m.indexTags(entry)

	m.publish(bus.TopicMemoryStored, entry)
	return *entry
}

// Retrieve scores every candidate filtered by scope/tags with the composite
// formula from spec.md §4.2 and returns the top K above minScore.
func (m *Manager) Retrieve(query string, opts RetrieveOptions) []ScoredEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	queryWords := wordSet(query)
	now := time.Now()

	var scored []ScoredEntry
	consider := func(e *Entry) {
		if opts.Scope != "" && e.Scope != opts.Scope {
			return
		}
		if !hasAllTags(e.Tags, opts.Tags) {
			return
		}
		score := m.scoreEntry(e, queryWords, now)
		if score > opts.MinScore {
			scored = append(scored, ScoredEntry{Entry: *e, Score: score})
		}
	}
	for _, e := range m.stm {
		consider(e)
	}
	for _, e := range m.ltm {
		consider(e)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	for _, se := range scored {
		store := m.storeFor(se.Entry.Tier)
		if e, ok := store[se.Entry.ID]; ok {
			e.AccessCount++
			e.LastAccessedAt = now
		}
	}
	return scored
}

func hasAllTags(entryTags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]bool, len(entryTags))
	for _, t := range entryTags {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

// scoreEntry implements the composite score from spec.md §4.2 "Retrieve".
// Caller must hold m.mu.
func (m *Manager) scoreEntry(e *Entry, queryWords map[string]bool, now time.Time) float64 {
	qValue := clamp01(e.QValue)

	var keywordHitRate float64
	if len(queryWords) > 0 {
		entryWords := wordSet(e.Value)
		hits := 0
		for w := range queryWords {
			if entryWords[w] {
				hits++
			}
		}
		keywordHitRate = float64(hits) / float64(len(queryWords))
	}

	ageMs := float64(now.Sub(e.LastAccessedAt).Milliseconds())
	recency := 1.0 / (1.0 + ageMs/86_400_000.0)
	frequency := math.Log2(float64(e.AccessCount)+1) / 10.0

	return 0.4*qValue + 0.3*keywordHitRate + 0.2*recency + 0.1*frequency
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdateQ applies the Bellman-style update from spec.md §4.2 "Q-value
// update", clamps to [0,1], and promotes immediately if the entry is in STM
// and crosses the promotion threshold.
func (m *Manager) UpdateQ(id string, reward float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.stm[id]
	if !ok {
		entry, ok = m.ltm[id]
	}
	if !ok {
		return 0, fmt.Errorf("contextmgr: entry %s not found", id)
	}

	maxOther := 0.0
	for eid, e := range m.stm {
		if eid != id && e.QValue > maxOther {
			maxOther = e.QValue
		}
	}
	for eid, e := range m.ltm {
		if eid != id && e.QValue > maxOther {
			maxOther = e.QValue
		}
	}

	alpha, gamma := m.cfg.QLearningRate, m.cfg.QDiscountFactor
	newQ := (1-alpha)*entry.QValue + alpha*(reward+gamma*maxOther)
	entry.QValue = clamp01(newQ)

	if entry.Tier == TierSTM && entry.QValue >= m.cfg.PromotionQThreshold {
		m.promoteLocked(entry.ID)
	}
	return entry.QValue, nil
}

// promoteLocked moves an STM entry to LTM. Caller must hold m.mu.
func (m *Manager) promoteLocked(id string) {
	m.moveLocked(id, TierSTM, TierLTM, bus.TopicMemoryPromoted)
}

// Demote moves an LTM entry back to STM.
func (m *Manager) Demote(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ltm[id]; !ok {
		return fmt.Errorf("contextmgr: entry %s not found in ltm", id)
	}
	m.moveLocked(id, TierLTM, TierSTM, bus.TopicMemoryDemoted)
	return nil
}

// moveLocked relocates an entry between tiers, evicting the destination's
// lowest-Q entry first if it is full. Caller must hold m.mu.
func (m *Manager) moveLocked(id string, from, to Tier, topic string) {
	src := m.storeFor(from)
	entry, ok := src[id]
	if !ok {
		return
	}
	dest := m.storeFor(to)
	if len(dest) >= m.cfg.capacity(to) {
		m.evictLowestQLocked(to)
	}
	delete(src, id)
	entry.Tier = to
	dest[id] = entry
	m.scopeIndex[scopeKey(entry.Scope, entry.Key)] = id
	m.publish(topic, entry)
}

// evictLowestQLocked removes the lowest-q-value entry from tier, ties
// broken by oldest LastAccessedAt. Caller must hold m.mu.
func (m *Manager) evictLowestQLocked(tier Tier) {
	store := m.storeFor(tier)
	var victim *Entry
	for _, e := range store {
		if victim == nil ||
			e.QValue < victim.QValue ||
			(e.QValue == victim.QValue && e.LastAccessedAt.Before(victim.LastAccessedAt)) {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	m.removeLocked(victim)
	m.publish(bus.TopicMemoryEvicted, victim)
}

// removeLocked deletes an entry from its tier and every index. Caller must
// hold m.mu.
func (m *Manager) removeLocked(e *Entry) {
	delete(m.storeFor(e.Tier), e.ID)
	delete(m.scopeIndex, scopeKey(e.Scope, e.Key))
	for _, tag := range e.Tags {
		if ids, ok := m.tagIndex[tag]; ok {
			delete(ids, e.ID)
			if len(ids) == 0 {
				delete(m.tagIndex, tag)
			}
		}
	}
}

func (m *Manager) indexTags(e *Entry) {
	for _, tag := range e.Tags {
		if m.tagIndex[tag] == nil {
			m.tagIndex[tag] = make(map[string]struct{})
		}
		m.tagIndex[tag][e.ID] = struct{}{}
	}
}

func (m *Manager) reindexTags(e *Entry, newTags []string) {
	for _, tag := range e.Tags {
		if ids, ok := m.tagIndex[tag]; ok {
			delete(ids, e.ID)
			if len(ids) == 0 {
				delete(m.tagIndex, tag)
			}
		}
	}
	e.Tags = newTags
	m.indexTags(e)
}

// Compress pulls the bottom 30% of STM by q-value (rounded down, at least
// 1) into a single KnowledgeBlock, removing the sources (spec.md §4.2
// "Compression"). Returns nil if fewer than 2 candidates exist.
func (m *Manager) Compress() *KnowledgeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*Entry, 0, len(m.stm))
	for _, e := range m.stm {
		entries = append(entries, e)
	}
	if len(entries) < 2 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].QValue < entries[j].QValue })

	n := len(entries) * 3 / 10
	if n < 1 {
		n = 1
	}
	victims := entries[:n]

	var parts []string
	var sourceIDs []string
	originalLen := 0
	for _, e := range victims {
		summary := e.Value
		if len(summary) > 100 {
			summary = summary[:100]
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", e.Key, summary))
		sourceIDs = append(sourceIDs, e.ID)
		originalLen += len(e.Value)
	}

	joined := strings.Join(parts, " | ")
	ratio := 1.0
	if originalLen > 0 {
		ratio = float64(len(joined)) / float64(originalLen)
	}

	block := KnowledgeBlock{
		ID:               uuid.NewString(),
		Summary:          joined,
		SourceIDs:        sourceIDs,
		CreatedAt:        time.Now(),
		CompressionRatio: ratio,
	}

	for _, e := range victims {
		m.removeLocked(e)
	}

	m.blocks = append(m.blocks, block)
	if len(m.blocks) > knowledgeBlockCapacity {
		m.blocks = m.blocks[len(m.blocks)-knowledgeBlockCapacity:]
	}

	m.publish(bus.TopicMemoryCompacted, block)
	return &block
}

// Blocks returns every retained knowledge block, oldest first.
func (m *Manager) Blocks() []KnowledgeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KnowledgeBlock{}, m.blocks...)
}

// ExportLTM returns the raw LTM entry list (spec.md §6 "Persisted state").
func (m *Manager) ExportLTM() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.ltm))
	for _, e := range m.ltm {
		out = append(out, *e)
	}
	return out
}

// ImportLTM accepts a raw entry list, silently skipping entries once the
// LTM cap is reached. Returns the count actually imported.
func (m *Manager) ImportLTM(entries []Entry) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	imported := 0
	for _, e := range entries {
		if len(m.ltm) >= m.cfg.LTMCapacity {
			break
		}
		cp := e
		cp.Tier = TierLTM
		m.ltm[cp.ID] = &cp
		m.scopeIndex[scopeKey(cp.Scope, cp.Key)] = cp.ID
		m.indexTags(&cp)
		imported++
	}
	return imported
}

func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, payload)
}
