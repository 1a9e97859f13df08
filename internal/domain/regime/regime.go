// Package regime classifies the volatility-index level into discrete
// regimes shared by the staleness and VIX tracking components.
package regime

// Regime is a discretized bucket of the volatility-index level.
type Regime string

const (
	Normal  Regime = "NORMAL"
	HighVol Regime = "HIGH_VOL"
	Extreme Regime = "EXTREME"
)

func (r Regime) String() string {
	return string(r)
}

// Thresholds defines the upper VIX bounds for each regime bucket.
// A level at or below Normal classifies as NORMAL, at or below HighVol
// as HIGH_VOL, anything above as EXTREME.
type Thresholds struct {
	Normal  float64 `yaml:"normal" default:"25.0" validate:"gt=0"`
	HighVol float64 `yaml:"high_vol" default:"35.0" validate:"gtfield=Normal"`
}

// DefaultThresholds returns the standard regime boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Normal: 25.0, HighVol: 35.0}
}

// Classify maps a VIX level to its regime bucket.
func Classify(level float64, t Thresholds) Regime {
	switch {
	case level <= t.Normal:
		return Normal
	case level <= t.HighVol:
		return HighVol
	default:
		return Extreme
	}
}
