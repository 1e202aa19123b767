// Package router implements the Model Router and Budget Gate described in
// spec.md §4.4: role/complexity-driven tier selection against a shared
// pricing catalog, with a cost-aware downgrade safeguard.
package router

import "github.com/cortexos/kernel/internal/pricing"

// Request is the input to Route.
type Request struct {
	Role            string
	Complexity      float64 // [0,1]
	EstimatedTokens int
	RemainingBudget float64
	PreferCheap     bool
	Provider        string
}

// Decision is what Route picks.
type Decision struct {
	Model         pricing.ModelPricing
	Tier          pricing.Tier
	EstimatedCost float64
	Downgraded    bool
}

// Router picks a model tier for a request, then a concrete model from the
// shared pricing catalog.
type Router struct {
	catalog *pricing.Catalog
}

// New builds a Router backed by catalog.
func New(catalog *pricing.Catalog) *Router {
	return &Router{catalog: catalog}
}

// roleTier implements the table from spec.md §4.4 ("Router").
func roleTier(role string, complexity float64) pricing.Tier {
	switch role {
	case "researcher":
		return pricing.TierFast
	case "validator":
		if complexity > 0.7 {
			return pricing.TierPowerful
		}
		return pricing.TierBalanced
	case "developer":
		if complexity > 0.5 {
			return pricing.TierPowerful
		}
		return pricing.TierBalanced
	case "architect":
		return pricing.TierPowerful
	case "tester":
		return pricing.TierBalanced
	case "orchestrator":
		return pricing.TierPowerful
	case "ux-agent":
		return pricing.TierFast
	default:
		if complexity > 0.6 {
			return pricing.TierPowerful
		}
		return pricing.TierBalanced
	}
}

// Route implements spec.md §4.4's full pick-then-downgrade flow.
func (r *Router) Route(req Request) Decision {
	tier := pricing.TierFast
	if !req.PreferCheap {
		tier = roleTier(req.Role, req.Complexity)
	}

	model, _ := r.catalog.ForProviderTier(req.Provider, tier)
	cost := estimatedCost(model, req.EstimatedTokens)

	if cost > 0.5*req.RemainingBudget {
		fast, ok := r.catalog.ForProviderTier(req.Provider, pricing.TierFast)
		if ok {
			model = fast
			tier = pricing.TierFast
			cost = estimatedCost(model, req.EstimatedTokens)
			return Decision{Model: model, Tier: tier, EstimatedCost: cost, Downgraded: true}
		}
	}

	return Decision{Model: model, Tier: tier, EstimatedCost: cost}
}

// estimatedCost implements spec.md §4.4's blended-rate estimate:
// estimatedTokens/1e6 * (inputPer1M + outputPer1M)/2.
func estimatedCost(model pricing.ModelPricing, estimatedTokens int) float64 {
	return float64(estimatedTokens) / 1_000_000 * (model.PromptPer1M + model.CompletionPer1M) / 2
}
