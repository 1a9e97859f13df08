package scoring

import "math"

// MenthorQ sub-component weights: gamma proximity 40%, blind spots
// 30%, swing levels 20%, dealer bias 10%.
const (
	mqWeightGamma   = 0.40
	mqWeightBlind   = 0.30
	mqWeightSwing   = 0.20
	mqWeightDealers = 0.10
)

func (c *Calculator) menthorqTrace(in MenthorQInput) ComponentTrace {
	done := c.startComponent()
	weight := c.weights.MenthorQ

	gamma := gammaScore(in.GammaLevels, in.CurrentPrice)
	blind := blindSpotScore(in.BlindSpots, in.CurrentPrice)
	swing := swingScore(in.SwingLevels, in.CurrentPrice)
	dealers := 0.5
	if in.DealersBias != nil {
		dealers = clamp01(*in.DealersBias)
	}

	raw := mqWeightGamma*gamma + mqWeightBlind*blind + mqWeightSwing*swing + mqWeightDealers*dealers

	quality := QualityGood
	details := map[string]any{
		"gamma_count": len(in.GammaLevels),
		"blind_count": len(in.BlindSpots),
		"swing_count": len(in.SwingLevels),
	}
	if in.Stale {
		quality = QualityWarning
		details["staleness_warning"] = "menthorq levels are stale"
	}
	if len(in.GammaLevels) == 0 && len(in.BlindSpots) == 0 {
		quality = QualityCritical
		details["data_critical"] = "no menthorq levels available"
	}

	return ComponentTrace{
		Component:     ComponentMenthorQ,
		RawScore:      raw,
		Weight:        weight,
		WeightedScore: raw * weight,
		SubComponents: map[string]float64{
			"gamma_levels": gamma,
			"blind_spots":  blind,
			"swing_levels": swing,
			"dealers_bias": dealers,
		},
		CalcDurationMs: done(),
		DataQuality:    quality,
		Details:        details,
	}
}

// gammaScore rewards proximity to the nearest gamma level: bands at
// <1, <5, <10 price units score 0.9/0.7/0.5, farther scores 0.3.
func gammaScore(levels map[string]float64, price float64) float64 {
	dist, ok := nearestDistance(levels, price)
	if !ok {
		return 0.5
	}
	switch {
	case dist < 1.0:
		return 0.9
	case dist < 5.0:
		return 0.7
	case dist < 10.0:
		return 0.5
	default:
		return 0.3
	}
}

// blindSpotScore is inverted: proximity to a blind spot is dangerous,
// so closer means lower.
func blindSpotScore(spots map[string]float64, price float64) float64 {
	dist, ok := nearestDistance(spots, price)
	if !ok {
		return 0.5
	}
	switch {
	case dist < 1.0:
		return 0.1
	case dist < 3.0:
		return 0.3
	case dist < 8.0:
		return 0.6
	default:
		return 0.8
	}
}

func swingScore(levels map[string]float64, price float64) float64 {
	dist, ok := nearestDistance(levels, price)
	if !ok {
		return 0.5
	}
	switch {
	case dist < 2.0:
		return 0.8
	case dist < 8.0:
		return 0.6
	default:
		return 0.4
	}
}

func nearestDistance(levels map[string]float64, price float64) (float64, bool) {
	if len(levels) == 0 || price <= 0 {
		return 0, false
	}
	min := math.Inf(1)
	found := false
	for _, lvl := range levels {
		if lvl <= 0 {
			continue
		}
		if d := math.Abs(lvl - price); d < min {
			min = d
			found = true
		}
	}
	return min, found
}
