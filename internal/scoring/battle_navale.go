package scoring

// Battle Navale sub-component weights: volume profile 40%, VWAP 30%,
// order-flow delta ratio 20%, confluence 10%.
const (
	bnWeightVolumeProfile = 0.40
	bnWeightVWAP          = 0.30
	bnWeightDelta         = 0.20
	bnWeightConfluence    = 0.10
)

func (c *Calculator) battleNavaleTrace(in BattleNavaleInput) ComponentTrace {
	done := c.startComponent()
	weight := c.weights.BattleNavale

	vp := volumeProfileScore(in)
	vwap := vwapScore(in)
	delta := deltaRatioScore(in.DeltaRatio)
	confluence := 0.5
	if in.ConfluenceScore != nil {
		confluence = clamp01(*in.ConfluenceScore)
	}

	raw := bnWeightVolumeProfile*vp + bnWeightVWAP*vwap + bnWeightDelta*delta + bnWeightConfluence*confluence

	quality := QualityGood
	details := map[string]any{
		"vpoc": in.VPOC,
		"vah":  in.VAH,
		"val":  in.VAL,
		"vwap": in.VWAP,
	}
	if in.Stale {
		quality = QualityWarning
		details["staleness_warning"] = "volume profile is stale"
	}
	if in.VAH == 0 && in.VAL == 0 && in.VWAP == 0 {
		quality = QualityCritical
		details["data_critical"] = "no volume profile data available"
	}

	return ComponentTrace{
		Component:     ComponentBattleNavale,
		RawScore:      raw,
		Weight:        weight,
		WeightedScore: raw * weight,
		SubComponents: map[string]float64{
			"volume_profile": vp,
			"vwap":           vwap,
			"delta_ratio":    delta,
			"confluence":     confluence,
		},
		CalcDurationMs: done(),
		DataQuality:    quality,
		Details:        details,
	}
}

// volumeProfileScore positions price against the value area: above VAH
// is bullish (0.8), below VAL bearish (0.2), inside neutral (0.5).
func volumeProfileScore(in BattleNavaleInput) float64 {
	if in.CurrentPrice <= 0 || in.VPOC <= 0 || in.VAH <= 0 || in.VAL <= 0 {
		return 0.5
	}
	switch {
	case in.CurrentPrice > in.VAH:
		return 0.8
	case in.CurrentPrice < in.VAL:
		return 0.2
	default:
		return 0.5
	}
}

// vwapScore positions price against VWAP with a 0.1% dead band.
func vwapScore(in BattleNavaleInput) float64 {
	if in.CurrentPrice <= 0 || in.VWAP <= 0 {
		return 0.5
	}
	switch {
	case in.CurrentPrice > in.VWAP*1.001:
		return 0.8
	case in.CurrentPrice < in.VWAP*0.999:
		return 0.2
	default:
		return 0.5
	}
}

// deltaRatioScore maps the buy-pressure ratio: >0.6 strong buying
// (0.8), <0.4 strong selling (0.2), else balanced (0.5).
func deltaRatioScore(ratio *float64) float64 {
	if ratio == nil {
		return 0.5
	}
	switch {
	case *ratio > 0.6:
		return 0.8
	case *ratio < 0.4:
		return 0.2
	default:
		return 0.5
	}
}
