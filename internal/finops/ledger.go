// Package finops implements the FinOps Engine described in spec.md §4.3:
// a bounded consumption ledger, budget threshold alerting, ordinary
// least-squares cost/token forecasting, and rightsizing recommendations.
package finops

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cortexos/kernel/internal/bus"
)

// Record is one consumption entry (spec.md §3 "ConsumptionRecord").
type Record struct {
	ID               string
	AgentID          string
	TaskID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Tags             map[string]string
	Timestamp        time.Time
}

// Ledger is a FIFO-trimmed, bounded list of consumption records.
type Ledger struct {
	maxRecords int
	records    []Record
	bus        *bus.Bus
	budgets    *BudgetSet
}

// NewLedger builds a Ledger that trims to maxRecords (FIFO) and drives the
// given BudgetSet on every ingested record.
func NewLedger(maxRecords int, budgets *BudgetSet, eventBus *bus.Bus) *Ledger {
	if maxRecords <= 0 {
		maxRecords = 100_000
	}
	return &Ledger{maxRecords: maxRecords, budgets: budgets, bus: eventBus}
}

// RecordConsumption assigns an id and timestamp, appends the record,
// trims to maxRecords, and updates every matching budget (spec.md §4.3
// "Consumption ingest").
func (l *Ledger) RecordConsumption(r Record) Record {
	r.ID = uuid.NewString()
	r.Timestamp = time.Now()
	l.records = append(l.records, r)
	if len(l.records) > l.maxRecords {
		l.records = l.records[len(l.records)-l.maxRecords:]
	}

	l.publish(bus.TopicConsumptionRecorded, bus.ConsumptionEvent{
		RecordID: r.ID, AgentID: r.AgentID, TaskID: r.TaskID, Model: r.Model, CostUSD: r.CostUSD,
	})

	if l.budgets != nil {
		l.budgets.applyRecord(r, l.bus)
	}
	return r
}

// Records returns a copy of the ledger's current contents, oldest first.
func (l *Ledger) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// ForAgent returns this agent's records in timestamp order.
func (l *Ledger) ForAgent(agentID string) []Record {
	var out []Record
	for _, r := range l.records {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (l *Ledger) publish(topic string, payload any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(topic, payload)
}
