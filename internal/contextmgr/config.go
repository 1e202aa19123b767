package contextmgr

// Config enumerates the Context Manager's options (spec.md §6).
type Config struct {
	STMCapacity           int
	LTMCapacity           int
	QLearningRate         float64
	QDiscountFactor       float64
	AutoCompressThreshold float64
	PromotionQThreshold   float64
	EnableSemanticIndex   bool
}

// DefaultConfig returns the spec's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		STMCapacity:           100,
		LTMCapacity:           1000,
		QLearningRate:         0.1,
		QDiscountFactor:       0.95,
		AutoCompressThreshold: 0.8,
		PromotionQThreshold:   0.7,
		EnableSemanticIndex:   true,
	}
}

func (c Config) capacity(tier Tier) int {
	if tier == TierLTM {
		return c.LTMCapacity
	}
	return c.STMCapacity
}
