package finops

import (
	"sort"
	"strings"
	"time"
)

// Aggregate is a cost/token rollup for one grouping key.
type Aggregate struct {
	Key              string
	RecordCount      int
	TotalCostUSD     float64
	PromptTokens     int
	CompletionTokens int
}

// Report is the output of Engine.GenerateReport (spec.md §4.3 "Report").
type Report struct {
	Start           time.Time
	End             time.Time
	ByAgent         []Aggregate
	ByModel         []Aggregate
	ByTagTuple      []Aggregate
	Budgets         []*Budget
	Recommendations []Recommendation
}

// GenerateReport aggregates ledger records in [start, end) by agent, by
// model, and by sorted-tag-tuple, then attaches current budgets and fresh
// recommendations (spec.md §4.3 "Report").
func (e *Engine) GenerateReport(start, end time.Time) Report {
	byAgent := make(map[string]*Aggregate)
	byModel := make(map[string]*Aggregate)
	byTags := make(map[string]*Aggregate)

	for _, r := range e.ledger.Records() {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		accumulate(byAgent, r.AgentID, r)
		accumulate(byModel, r.Model, r)
		accumulate(byTags, tagTupleKey(r.Tags), r)
	}

	return Report{
		Start:           start,
		End:             end,
		ByAgent:         flatten(byAgent),
		ByModel:         flatten(byModel),
		ByTagTuple:      flatten(byTags),
		Budgets:         e.budgets.List(),
		Recommendations: e.recommender.GenerateRecommendations(""),
	}
}

func accumulate(m map[string]*Aggregate, key string, r Record) {
	agg, ok := m[key]
	if !ok {
		agg = &Aggregate{Key: key}
		m[key] = agg
	}
	agg.RecordCount++
	agg.TotalCostUSD += r.CostUSD
	agg.PromptTokens += r.PromptTokens
	agg.CompletionTokens += r.CompletionTokens
}

func flatten(m map[string]*Aggregate) []Aggregate {
	out := make([]Aggregate, 0, len(m))
	for _, agg := range m {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// tagTupleKey produces a stable, sorted "k=v,k=v" key for a record's tags.
func tagTupleKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
