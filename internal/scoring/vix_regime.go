package scoring

// VIX sub-component weights: level score 60%, policy score 40%.
const (
	vixWeightLevel  = 0.60
	vixWeightPolicy = 0.40
)

// policyScores maps the active volatility policy to a tradability
// score.
var policyScores = map[string]float64{
	"normal":  0.8,
	"low":     0.9,
	"high":    0.4,
	"extreme": 0.2,
}

func (c *Calculator) vixRegimeTrace(in VIXInput) ComponentTrace {
	done := c.startComponent()
	weight := c.weights.VIXRegime

	levelScore := vixLevelScore(in.Level)
	policyScore, ok := policyScores[in.Policy]
	if !ok {
		policyScore = 0.5
	}

	raw := vixWeightLevel*levelScore + vixWeightPolicy*policyScore

	quality := QualityGood
	details := map[string]any{
		"level":  in.Level,
		"regime": in.Regime,
		"policy": in.Policy,
	}
	if in.Level <= 0 {
		quality = QualityCritical
		details["data_critical"] = "no vix level available"
	}

	return ComponentTrace{
		Component:     ComponentVIXRegime,
		RawScore:      raw,
		Weight:        weight,
		WeightedScore: raw * weight,
		SubComponents: map[string]float64{
			"vix_level": levelScore,
			"policy":    policyScore,
		},
		CalcDurationMs: done(),
		DataQuality:    quality,
		Details:        details,
	}
}

// vixLevelScore rewards low volatility: ≤15 is 0.9, ≤25 is 0.7, ≤35 is
// 0.5, anything higher 0.3.
func vixLevelScore(level float64) float64 {
	switch {
	case level <= 0:
		return 0.5
	case level <= 15:
		return 0.9
	case level <= 25:
		return 0.7
	case level <= 35:
		return 0.5
	default:
		return 0.3
	}
}
