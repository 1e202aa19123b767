package finops

import "sort"

// Period names the forecast horizons from spec.md §4.3 "Forecast".
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// periodMs is the fixed lookup table from spec.md §4.3.
var periodMs = map[Period]float64{
	PeriodHourly:  3.6e6,
	PeriodDaily:   8.64e7,
	PeriodWeekly:  6.048e8,
	PeriodMonthly: 2.592e9,
}

// Forecast is the output of Forecaster.Forecast.
type Forecast struct {
	EstimatedCost   float64
	EstimatedTokens float64
	Confidence      float64
}

// Forecaster fits OLS regressions of cumulative cost/tokens against
// timestamp to project future consumption (spec.md §4.3 "Forecast").
type Forecaster struct {
	ledger *Ledger
}

// NewForecaster builds a Forecaster reading from ledger.
func NewForecaster(ledger *Ledger) *Forecaster {
	return &Forecaster{ledger: ledger}
}

// Forecast implements spec.md §4.3's regression-based projection. Calling
// it twice without intervening records is idempotent, since it only reads
// the ledger.
func (f *Forecaster) Forecast(agentID string, period Period) Forecast {
	records := f.ledger.ForAgent(agentID)
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })

	if len(records) < 2 {
		return Forecast{}
	}

	t0 := records[0].Timestamp
	xs := make([]float64, len(records))
	cumCost := make([]float64, len(records))
	cumTokens := make([]float64, len(records))

	runningCost, runningTokens := 0.0, 0.0
	for i, r := range records {
		xs[i] = float64(r.Timestamp.Sub(t0).Milliseconds())
		runningCost += r.CostUSD
		runningTokens += float64(r.PromptTokens + r.CompletionTokens)
		cumCost[i] = runningCost
		cumTokens[i] = runningTokens
	}

	costSlope, costR2 := ordinaryLeastSquares(xs, cumCost)
	tokenSlope, _ := ordinaryLeastSquares(xs, cumTokens)

	ms := periodMs[period]
	estCost := costSlope * ms
	if estCost < 0 {
		estCost = 0
	}
	estTokens := tokenSlope * ms
	if estTokens < 0 {
		estTokens = 0
	}

	confidence := costR2 * min1(float64(len(records))/10.0)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return Forecast{EstimatedCost: estCost, EstimatedTokens: estTokens, Confidence: confidence}
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// ordinaryLeastSquares fits y = slope*x + intercept and returns (slope, R²).
// With zero variance in x, both are 0 (spec.md §4.3 "Forecast").
func ordinaryLeastSquares(xs, ys []float64) (slope, r2 float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumX2 float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumX2 += xs[i] * xs[i]
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i := range xs {
		pred := slope*xs[i] + intercept
		ssRes += (ys[i] - pred) * (ys[i] - pred)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	return slope, r2
}
