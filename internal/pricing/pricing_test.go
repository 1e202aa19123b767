package pricing

import "testing"

func TestEstimateCost_KnownModel(t *testing.T) {
	c := DefaultCatalog()
	cost := c.EstimateCost("gpt-4o", 1000, 500)
	if cost < 0.007 || cost > 0.008 {
		t.Fatalf("expected ~0.0075, got %f", cost)
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	c := DefaultCatalog()
	cost := c.EstimateCost("unknown-model-xyz", 1000, 500)
	if cost != 0.0 {
		t.Fatalf("expected 0.0 for unknown model, got %f", cost)
	}
}

func TestEstimateCost_GeminiModel(t *testing.T) {
	c := DefaultCatalog()
	// Gemini 2.5 Flash: $0.075 per 1M prompt, $0.30 per 1M completion
	cost := c.EstimateCost("gemini-2.5-flash", 1000000, 1000000)
	expected := 0.075 + 0.30 // $0.375
	if cost != expected {
		t.Fatalf("expected %f, got %f", expected, cost)
	}
}

func TestForProviderTier_ExactMatch(t *testing.T) {
	c := DefaultCatalog()
	m, ok := c.ForProviderTier("anthropic", TierFast)
	if !ok || m.Model != "claude-3-5-haiku" {
		t.Fatalf("expected claude-3-5-haiku, got %+v (ok=%v)", m, ok)
	}
}

func TestForProviderTier_FallsBackToAnyModelOfProvider(t *testing.T) {
	c := NewCatalog(ModelPricing{Model: "only-model", Provider: "acme", Tier: TierPowerful})
	m, ok := c.ForProviderTier("acme", TierFast)
	if !ok || m.Model != "only-model" {
		t.Fatalf("expected fallback to only-model, got %+v (ok=%v)", m, ok)
	}
}

func TestForProviderTier_FallsBackToFirstListed(t *testing.T) {
	c := NewCatalog(
		ModelPricing{Model: "first", Provider: "acme", Tier: TierFast},
		ModelPricing{Model: "second", Provider: "other", Tier: TierFast},
	)
	m, ok := c.ForProviderTier("nonexistent", TierFast)
	if !ok || m.Model != "first" {
		t.Fatalf("expected fallback to first listed model, got %+v (ok=%v)", m, ok)
	}
}

func TestTierRank_Ordering(t *testing.T) {
	if TierFast == TierBalanced {
		t.Fatalf("tiers must be distinct")
	}
	fast := ModelPricing{Tier: TierFast}
	powerful := ModelPricing{Tier: TierPowerful}
	if fast.TierRank() >= powerful.TierRank() {
		t.Fatalf("expected fast rank < powerful rank")
	}
}
