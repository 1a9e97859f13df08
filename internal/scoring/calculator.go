// Package scoring combines the three domain components (MenthorQ
// level proximity, Battle Navale volume profile, VIX regime) into
// one final score with a full per-component audit trail.
package scoring

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Weights are the component weights; they must sum to 1.0 within
// tolerance, validated at load time rather than at score time.
type Weights struct {
	MenthorQ     float64 `yaml:"menthorq" default:"0.40" validate:"gte=0"`
	BattleNavale float64 `yaml:"battle_navale" default:"0.35" validate:"gte=0"`
	VIXRegime    float64 `yaml:"vix_regime" default:"0.25" validate:"gte=0"`
}

// WeightSumTolerance is the permitted deviation of Σweights from 1.0.
const WeightSumTolerance = 0.01

// DefaultWeights returns the production component weights.
func DefaultWeights() Weights {
	return Weights{MenthorQ: 0.40, BattleNavale: 0.35, VIXRegime: 0.25}
}

// Sum returns the total of the three component weights.
func (w Weights) Sum() float64 {
	return w.MenthorQ + w.BattleNavale + w.VIXRegime
}

// Validate fails when the weights do not sum to 1.0 within tolerance.
func (w Weights) Validate() error {
	if w.MenthorQ < 0 || w.BattleNavale < 0 || w.VIXRegime < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("score weights sum %.3f outside tolerance %.2f of 1.0", sum, WeightSumTolerance)
	}
	return nil
}

// baseConfidence is scaled down for degraded data quality and missing
// components.
const baseConfidence = 0.8

// Statistics aggregates recent score results for export.
type Statistics struct {
	TotalCalculations    int              `json:"total_calculations"`
	AvgFinalScore        float64          `json:"avg_final_score"`
	AvgConfidence        float64          `json:"avg_confidence"`
	AvgCalcMs            float64          `json:"avg_calc_ms"`
	StrengthDistribution map[Strength]int `json:"strength_distribution"`
	QualityDistribution  map[Quality]int  `json:"quality_distribution"`
}

// Calculator computes scores and keeps a bounded result history for
// trend export. Safe for concurrent use.
type Calculator struct {
	mu      sync.Mutex
	weights Weights
	history []ScoreResult
	maxHist int
	total   int
}

// NewCalculator creates a calculator. Weights are assumed validated by
// config loading; zero weights get defaults.
func NewCalculator(weights Weights) *Calculator {
	if weights.Sum() == 0 {
		weights = DefaultWeights()
	}
	return &Calculator{weights: weights, maxHist: 1000}
}

// Calculate combines the three component traces into one result. It
// never returns an error and never panics: an internal failure yields
// a neutral result flagged ERROR so the pipeline can keep running.
func (c *Calculator) Calculate(menthorq MenthorQInput, battleNavale BattleNavaleInput, vix VIXInput) (result ScoreResult) {
	start := time.Now()
	now := start.UTC()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("score calculation failed")
			result = errorResult(fmt.Sprintf("%v", r), now)
		}
		c.record(result)
	}()

	components := []ComponentTrace{
		c.menthorqTrace(menthorq),
		c.battleNavaleTrace(battleNavale),
		c.vixRegimeTrace(vix),
	}

	var totalWeighted, totalWeight float64
	var issues []string
	for _, trace := range components {
		totalWeighted += trace.WeightedScore
		totalWeight += trace.Weight
		if trace.DataQuality != QualityGood {
			issues = append(issues, fmt.Sprintf("%s: %s", trace.Component, trace.DataQuality))
		}
	}

	finalScore := 0.5
	overall := QualityGood
	if totalWeight > 0 {
		finalScore = clamp01(totalWeighted / totalWeight)
	} else {
		overall = QualityCritical
		issues = append(issues, "total weight is zero")
	}

	if overall != QualityCritical {
		switch {
		case len(issues) >= 2:
			overall = QualityCritical
		case len(issues) == 1:
			overall = QualityWarning
		}
	}

	confidence := confidenceLevel(len(components), overall)
	strength := signalStrength(finalScore, confidence)

	result = ScoreResult{
		FinalScore:         finalScore,
		Components:         components,
		TotalCalcMs:        float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:          now,
		DataQualityOverall: overall,
		ConfidenceLevel:    confidence,
		SignalStrength:     strength,
		AuditTrail:         auditTrail(components, issues),
	}

	log.Debug().Float64("final_score", finalScore).Float64("confidence", confidence).
		Str("strength", string(strength)).Str("quality", string(overall)).
		Msg("score calculated")
	return result
}

// Weights returns the configured component weights.
func (c *Calculator) Weights() Weights {
	return c.weights
}

// Statistics summarizes the bounded result history.
func (c *Calculator) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Statistics{
		TotalCalculations:    c.total,
		StrengthDistribution: make(map[Strength]int),
		QualityDistribution:  make(map[Quality]int),
	}
	if len(c.history) == 0 {
		return stats
	}
	var scoreSum, confSum, calcSum float64
	for _, r := range c.history {
		scoreSum += r.FinalScore
		confSum += r.ConfidenceLevel
		calcSum += r.TotalCalcMs
		stats.StrengthDistribution[r.SignalStrength]++
		stats.QualityDistribution[r.DataQualityOverall]++
	}
	n := float64(len(c.history))
	stats.AvgFinalScore = scoreSum / n
	stats.AvgConfidence = confSum / n
	stats.AvgCalcMs = calcSum / n
	return stats
}

// Recent returns up to n recent results, newest first.
func (c *Calculator) Recent(n int) []ScoreResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	out := make([]ScoreResult, 0, n)
	for i := len(c.history) - 1; i >= len(c.history)-n; i-- {
		out = append(out, c.history[i])
	}
	return out
}

func (c *Calculator) record(result ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.history = append(c.history, result)
	if len(c.history) > c.maxHist {
		c.history = c.history[1:]
	}
}

// startComponent returns a closure yielding the elapsed milliseconds.
func (c *Calculator) startComponent() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

// confidenceLevel starts at the base, scales down 20% for WARNING
// quality, 50% for CRITICAL, and 20% per missing component.
func confidenceLevel(componentCount int, quality Quality) float64 {
	confidence := baseConfidence
	switch quality {
	case QualityWarning:
		confidence *= 0.8
	case QualityCritical:
		confidence *= 0.5
	}
	if missing := 3 - componentCount; missing > 0 {
		confidence *= 1.0 - float64(missing)*0.2
	}
	return math.Max(0.1, math.Min(1.0, confidence))
}

func signalStrength(finalScore, confidence float64) Strength {
	adjusted := finalScore * confidence
	switch {
	case adjusted >= 0.8:
		return StrengthVeryStrong
	case adjusted >= 0.7:
		return StrengthStrong
	case adjusted >= 0.6:
		return StrengthModerate
	case adjusted >= 0.4:
		return StrengthWeak
	default:
		return StrengthVeryWeak
	}
}

func auditTrail(components []ComponentTrace, issues []string) map[string]any {
	details := make(map[string]any, len(components))
	for _, trace := range components {
		details[string(trace.Component)] = map[string]any{
			"raw_score":      trace.RawScore,
			"weight":         trace.Weight,
			"weighted_score": trace.WeightedScore,
			"data_quality":   string(trace.DataQuality),
			"calc_ms":        trace.CalcDurationMs,
			"sub_components": trace.SubComponents,
		}
	}
	return map[string]any{
		"components_count":    len(components),
		"data_quality_issues": issues,
		"component_details":   details,
	}
}

func errorResult(msg string, at time.Time) ScoreResult {
	return ScoreResult{
		FinalScore:         0.5,
		Timestamp:          at,
		DataQualityOverall: QualityCritical,
		ConfidenceLevel:    0,
		SignalStrength:     StrengthError,
		AuditTrail:         map[string]any{"error": msg},
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
