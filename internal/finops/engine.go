package finops

import (
	"log/slog"

	"github.com/cortexos/kernel/internal/bus"
	"github.com/cortexos/kernel/internal/pricing"
)

// Config enumerates the FinOps Engine's options (spec.md §6).
type Config struct {
	Enabled                     bool
	MaxRecords                  int
	ForecastEnabled             bool
	RightsizingEnabled          bool
	ReportIntervalMs            int
	DefaultBudgetAlertThreshold float64
}

// DefaultConfig returns the spec's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		MaxRecords:                  100_000,
		ForecastEnabled:             true,
		RightsizingEnabled:          true,
		ReportIntervalMs:            3_600_000,
		DefaultBudgetAlertThreshold: 0.8,
	}
}

// Engine wires the ledger, budgets, forecaster, and recommender into the
// single facade the rest of the kernel depends on.
type Engine struct {
	cfg         Config
	ledger      *Ledger
	budgets     *BudgetSet
	forecaster  *Forecaster
	recommender *Recommender
	logger      *slog.Logger
}

// New builds an Engine backed by catalog for pricing lookups.
func New(cfg Config, catalog *pricing.Catalog, eventBus *bus.Bus, logger *slog.Logger) *Engine {
	budgets := NewBudgetSet()
	ledger := NewLedger(cfg.MaxRecords, budgets, eventBus)
	return &Engine{
		cfg:         cfg,
		ledger:      ledger,
		budgets:     budgets,
		forecaster:  NewForecaster(ledger),
		recommender: NewRecommender(ledger, catalog),
		logger:      logger,
	}
}

// RecordConsumption delegates to the ledger.
func (e *Engine) RecordConsumption(r Record) Record {
	return e.ledger.RecordConsumption(r)
}

// AddBudget delegates to the budget set.
func (e *Engine) AddBudget(b Budget) *Budget {
	return e.budgets.Add(b)
}

// Budgets returns every registered budget.
func (e *Engine) Budgets() []*Budget {
	return e.budgets.List()
}

// Forecast delegates to the forecaster, a no-op when forecasting is
// disabled.
func (e *Engine) Forecast(agentID string, period Period) Forecast {
	if !e.cfg.ForecastEnabled {
		return Forecast{}
	}
	return e.forecaster.Forecast(agentID, period)
}

// GenerateRecommendations delegates to the recommender, a no-op when
// rightsizing is disabled.
func (e *Engine) GenerateRecommendations(agentID string) []Recommendation {
	if !e.cfg.RightsizingEnabled {
		return nil
	}
	return e.recommender.GenerateRecommendations(agentID)
}

// Ledger exposes the underlying ledger for read-only queries.
func (e *Engine) Ledger() *Ledger { return e.ledger }
