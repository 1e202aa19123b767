package finops

import (
	"math"

	"github.com/cortexos/kernel/internal/pricing"
)

// Recommendation is a single rightsizing suggestion (spec.md §4.3
// "Rightsizing").
type Recommendation struct {
	AgentID          string
	CurrentModel     string
	RecommendedModel string
	EstimatedSavings float64
	QualityImpact    float64
}

type agentModelKey struct {
	agentID string
	model   string
}

type agentModelStats struct {
	count       int
	totalCost   float64
	totalInput  int
	totalOutput int
	costs       []float64
}

// Recommender generates rightsizing recommendations from ledger history
// against a pricing catalog.
type Recommender struct {
	ledger  *Ledger
	catalog *pricing.Catalog
}

// NewRecommender builds a Recommender.
func NewRecommender(ledger *Ledger, catalog *pricing.Catalog) *Recommender {
	return &Recommender{ledger: ledger, catalog: catalog}
}

// GenerateRecommendations implements spec.md §4.3 "Rightsizing". An empty
// agentID considers every agent.
func (rec *Recommender) GenerateRecommendations(agentID string) []Recommendation {
	grouped := make(map[agentModelKey]*agentModelStats)
	for _, r := range rec.ledger.Records() {
		if agentID != "" && r.AgentID != agentID {
			continue
		}
		key := agentModelKey{agentID: r.AgentID, model: r.Model}
		st, ok := grouped[key]
		if !ok {
			st = &agentModelStats{}
			grouped[key] = st
		}
		st.count++
		st.totalCost += r.CostUSD
		st.totalInput += r.PromptTokens
		st.totalOutput += r.CompletionTokens
		st.costs = append(st.costs, r.CostUSD)
	}

	var recs []Recommendation
	for key, st := range grouped {
		model, ok := rec.catalog.Lookup(key.model)
		if !ok || model.TierRank() < 3 || len(model.DowngradePath) == 0 {
			continue
		}

		meanOutput := float64(st.totalOutput) / float64(st.count)
		meanInput := float64(st.totalInput) / float64(st.count)

		var target string
		var qualityImpact float64

		switch {
		case meanOutput < 100:
			target = model.DowngradePath[0]
			qualityImpact = 0.05
		case st.count >= 10 && coefficientOfVariation(st.costs) < 0.3 && meanOutput < 500:
			target = model.DowngradePath[0]
			if len(model.DowngradePath) > 1 {
				target = model.DowngradePath[1]
			}
			qualityImpact = 0.10
		default:
			continue
		}

		newModel, ok := rec.catalog.Lookup(target)
		if !ok {
			continue
		}
		oldCostPer1k := costPer1k(model, meanInput, meanOutput)
		newCostPer1k := costPer1k(newModel, meanInput, meanOutput)
		if oldCostPer1k == 0 {
			continue
		}
		savings := st.totalCost * (1 - newCostPer1k/oldCostPer1k)
		if savings <= 0 {
			continue
		}

		recs = append(recs, Recommendation{
			AgentID:          key.agentID,
			CurrentModel:     key.model,
			RecommendedModel: target,
			EstimatedSavings: savings,
			QualityImpact:    qualityImpact,
		})
	}
	return recs
}

// costPer1k blends prompt/completion rates using an agent's actual mean
// token mix (spec.md §4.3 "Rightsizing": "costPer1k uses the actual mean
// input/output token counts for that agent").
func costPer1k(model pricing.ModelPricing, meanInput, meanOutput float64) float64 {
	total := meanInput + meanOutput
	if total == 0 {
		return 0
	}
	blended := (meanInput*model.PromptPer1M + meanOutput*model.CompletionPer1M) / 1_000_000
	return blended / (total / 1000)
}

func coefficientOfVariation(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	return math.Sqrt(variance) / mean
}
