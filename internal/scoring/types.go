package scoring

import "time"

// Component identifies one of the three weighted scoring components.
type Component string

const (
	ComponentMenthorQ     Component = "menthorq"
	ComponentBattleNavale Component = "battle_navale"
	ComponentVIXRegime    Component = "vix_regime"
)

// Quality grades the input data backing a component.
type Quality string

const (
	QualityGood     Quality = "GOOD"
	QualityWarning  Quality = "WARNING"
	QualityCritical Quality = "CRITICAL"
)

// Strength buckets the confidence-adjusted final score.
type Strength string

const (
	StrengthVeryStrong Strength = "VERY_STRONG"
	StrengthStrong     Strength = "STRONG"
	StrengthModerate   Strength = "MODERATE"
	StrengthWeak       Strength = "WEAK"
	StrengthVeryWeak   Strength = "VERY_WEAK"
	StrengthError      Strength = "ERROR"
)

// ComponentTrace is the per-component audit record. It is owned
// exclusively by the ScoreResult that contains it.
type ComponentTrace struct {
	Component      Component          `json:"component"`
	RawScore       float64            `json:"raw_score"`
	Weight         float64            `json:"weight"`
	WeightedScore  float64            `json:"weighted_score"`
	SubComponents  map[string]float64 `json:"sub_components,omitempty"`
	CalcDurationMs float64            `json:"calc_duration_ms"`
	DataQuality    Quality            `json:"data_quality"`
	Details        map[string]any     `json:"details,omitempty"`
}

// ScoreResult is the full outcome of one Calculate call.
type ScoreResult struct {
	FinalScore         float64          `json:"final_score"`
	Components         []ComponentTrace `json:"components"`
	TotalCalcMs        float64          `json:"total_calc_ms"`
	Timestamp          time.Time        `json:"timestamp"`
	DataQualityOverall Quality          `json:"data_quality_overall"`
	ConfidenceLevel    float64          `json:"confidence_level"`
	SignalStrength     Strength         `json:"signal_strength"`
	AuditTrail         map[string]any   `json:"audit_trail"`
}

// MenthorQInput carries the level-proximity data: option gamma levels,
// blind spots, swing levels, and the dealer-bias term.
type MenthorQInput struct {
	CurrentPrice float64            `json:"current_price"`
	GammaLevels  map[string]float64 `json:"gamma_levels"`
	BlindSpots   map[string]float64 `json:"blind_spots"`
	SwingLevels  map[string]float64 `json:"swing_levels"`
	DealersBias  *float64           `json:"dealers_bias_score,omitempty"`
	Stale        bool               `json:"stale"`
}

// BattleNavaleInput carries the volume-profile data: value area, VWAP,
// order-flow delta ratio, and the confluence term.
type BattleNavaleInput struct {
	CurrentPrice    float64  `json:"current_price"`
	VPOC            float64  `json:"vpoc"`
	VAH             float64  `json:"vah"`
	VAL             float64  `json:"val"`
	VWAP            float64  `json:"vwap"`
	DeltaRatio      *float64 `json:"delta_ratio,omitempty"`
	ConfluenceScore *float64 `json:"confluence_score,omitempty"`
	Stale           bool     `json:"stale"`
}

// VIXInput carries the volatility context for scoring.
type VIXInput struct {
	Level  float64 `json:"level"`
	Regime string  `json:"regime"`
	Policy string  `json:"policy"`
}
