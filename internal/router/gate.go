package router

import "sync"

// BudgetGate enforces a monotonically growing spend against a fixed limit
// (spec.md §4.4 "Budget Gate"). It never blocks by itself; callers decide
// what to do with the error.
type BudgetGate struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewBudgetGate creates a gate with the given limit.
func NewBudgetGate(limit float64) *BudgetGate {
	return &BudgetGate{limit: limit}
}

// CheckEstimate returns a *BudgetExceededError iff spent+amount > limit,
// without mutating spent.
func (g *BudgetGate) CheckEstimate(amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.spent+amount > g.limit {
		return &BudgetExceededError{Spent: g.spent + amount, Limit: g.limit}
	}
	return nil
}

// Spend increments spent unconditionally, then returns a
// *BudgetExceededError if the increment crossed the limit. Spend is
// monotonic: spent never decreases.
func (g *BudgetGate) Spend(amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent += amount
	if g.spent > g.limit {
		return &BudgetExceededError{Spent: g.spent, Limit: g.limit}
	}
	return nil
}

// Remaining returns limit - spent (may be negative once exceeded).
func (g *BudgetGate) Remaining() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit - g.spent
}

// Spent returns the current monotonic spend.
func (g *BudgetGate) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}
