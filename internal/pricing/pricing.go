// Package pricing provides the shared per-model cost catalog consumed by
// both the FinOps Engine (spec.md §4.3) and the Model Router (spec.md
// §4.4): per-million-token rates, tier classification, and downgrade
// paths used for rightsizing recommendations.
package pricing

// Tier is a coarse capability/cost band. The Router picks one per request;
// FinOps rightsizing walks a model's DowngradePath toward cheaper tiers.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"
)

// tierRank orders tiers from cheapest to priciest for comparisons like
// "known pricing tier >= 3" in the rightsizing rule (spec.md §4.3).
var tierRank = map[Tier]int{
	TierFast:     1,
	TierBalanced: 2,
	TierPowerful: 3,
}

// ModelPricing holds per-million-token costs and tier metadata for one
// model (spec.md §4.4 "pricing catalog").
type ModelPricing struct {
	Model           string
	Provider        string
	Tier            Tier
	PromptPer1M     float64
	CompletionPer1M float64
	// DowngradePath lists cheaper same-provider models in preference
	// order; empty for a model with nothing cheaper to fall back to.
	DowngradePath []string
}

// TierRank returns the model's tier rank (1=fast .. 3=powerful).
func (p ModelPricing) TierRank() int {
	return tierRank[p.Tier]
}

// Catalog is a concurrency-safe (read-only after construction) lookup of
// ModelPricing, keyed by model name and by (provider, tier).
type Catalog struct {
	models map[string]ModelPricing
	order  []string
}

// NewCatalog builds a Catalog from an explicit model list, preserving
// insertion order for the "first listed model" fallback (spec.md §4.4).
func NewCatalog(models ...ModelPricing) *Catalog {
	c := &Catalog{models: make(map[string]ModelPricing, len(models))}
	for _, m := range models {
		c.models[m.Model] = m
		c.order = append(c.order, m.Model)
	}
	return c
}

// DefaultCatalog seeds a catalog with publicly documented model pricing
// across three hosted providers, organized into the Router's
// fast/balanced/powerful tiers.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		// Anthropic
		ModelPricing{Model: "claude-3-5-haiku", Provider: "anthropic", Tier: TierFast, PromptPer1M: 0.80, CompletionPer1M: 4.00},
		ModelPricing{Model: "claude-3-7-sonnet", Provider: "anthropic", Tier: TierBalanced, PromptPer1M: 3.00, CompletionPer1M: 15.00, DowngradePath: []string{"claude-3-5-haiku"}},
		ModelPricing{Model: "claude-sonnet-4-5", Provider: "anthropic", Tier: TierPowerful, PromptPer1M: 3.00, CompletionPer1M: 15.00, DowngradePath: []string{"claude-3-7-sonnet", "claude-3-5-haiku"}},

		// OpenAI
		ModelPricing{Model: "gpt-4o-mini", Provider: "openai", Tier: TierFast, PromptPer1M: 0.15, CompletionPer1M: 0.60},
		ModelPricing{Model: "gpt-4o", Provider: "openai", Tier: TierBalanced, PromptPer1M: 2.50, CompletionPer1M: 10.00, DowngradePath: []string{"gpt-4o-mini"}},
		ModelPricing{Model: "o3-mini", Provider: "openai", Tier: TierPowerful, PromptPer1M: 1.10, CompletionPer1M: 4.40, DowngradePath: []string{"gpt-4o", "gpt-4o-mini"}},

		// Google
		ModelPricing{Model: "gemini-2.5-flash-lite", Provider: "google", Tier: TierFast, PromptPer1M: 0.0, CompletionPer1M: 0.0},
		ModelPricing{Model: "gemini-2.5-flash", Provider: "google", Tier: TierBalanced, PromptPer1M: 0.075, CompletionPer1M: 0.30, DowngradePath: []string{"gemini-2.5-flash-lite"}},
		ModelPricing{Model: "gemini-2.5-pro", Provider: "google", Tier: TierPowerful, PromptPer1M: 1.25, CompletionPer1M: 5.00, DowngradePath: []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}},
	)
}

// Lookup returns the pricing entry for an exact model name.
func (c *Catalog) Lookup(model string) (ModelPricing, bool) {
	p, ok := c.models[model]
	return p, ok
}

// Models returns every catalog entry in insertion order, e.g. for
// rebuilding a catalog with additional overrides layered on top.
func (c *Catalog) Models() []ModelPricing {
	out := make([]ModelPricing, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

// ForProviderTier implements the Router's model resolution (spec.md §4.4):
// an exact (provider, tier) match, falling back to any model of that
// provider, falling back to the first listed model in the catalog.
func (c *Catalog) ForProviderTier(provider string, tier Tier) (ModelPricing, bool) {
	for _, name := range c.order {
		m := c.models[name]
		if m.Provider == provider && m.Tier == tier {
			return m, true
		}
	}
	for _, name := range c.order {
		m := c.models[name]
		if m.Provider == provider {
			return m, true
		}
	}
	if len(c.order) > 0 {
		return c.models[c.order[0]], true
	}
	return ModelPricing{}, false
}

// EstimateCost returns the estimated USD cost for the given token counts.
// Returns 0.0 for unknown models, the safe default a caller should apply
// when usage for an unpriced model still needs recording.
func (c *Catalog) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := c.Lookup(model)
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}
