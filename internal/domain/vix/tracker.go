// Package vix maintains the volatility-index regime state machine:
// snapshots, debounced regime transitions, threshold alerts, and
// per-regime decision statistics.
package vix

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/domain/regime"
)

// TransitionType classifies how a regime boundary was crossed.
type TransitionType string

const (
	TransitionRegimeChange  TransitionType = "REGIME_CHANGE"
	TransitionSpike         TransitionType = "SPIKE"
	TransitionCrash         TransitionType = "CRASH"
	TransitionVolExplosion  TransitionType = "VOLATILITY_EXPLOSION"
	TransitionCalmPeriod    TransitionType = "CALM_PERIOD"
)

// Trend is the short-term direction of the VIX level.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Config holds regime boundaries and alert thresholds.
type Config struct {
	Thresholds regime.Thresholds `yaml:"thresholds"`

	// MinRegimeDuration debounces transitions: a boundary crossing is
	// recorded only when the previous regime lasted at least this long.
	MinRegimeDuration time.Duration `yaml:"min_regime_duration" default:"300s"`

	// Alert thresholds, independent of the transition debounce.
	SpikePercent   float64 `yaml:"spike_percent" default:"20.0"`
	CrashPercent   float64 `yaml:"crash_percent" default:"-15.0"`
	ExtremeLevel   float64 `yaml:"extreme_level" default:"50.0"`
	CalmLevel      float64 `yaml:"calm_level" default:"12.0"`
	TrendBand      float64 `yaml:"trend_band" default:"5.0"`
	MaxHistorySize int     `yaml:"max_history_size" default:"1000" validate:"gt=0"`
}

// DefaultConfig returns the standard tracker settings.
func DefaultConfig() Config {
	return Config{
		Thresholds:        regime.DefaultThresholds(),
		MinRegimeDuration: 300 * time.Second,
		SpikePercent:      20.0,
		CrashPercent:      -15.0,
		ExtremeLevel:      50.0,
		CalmLevel:         12.0,
		TrendBand:         5.0,
		MaxHistorySize:    1000,
	}
}

// Snapshot is one VIX observation with its derived regime and trend.
type Snapshot struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         float64        `json:"level"`
	Regime        regime.Regime  `json:"regime"`
	Change        float64        `json:"change"`
	ChangePercent float64        `json:"change_percent"`
	Trend         Trend          `json:"trend"`
	Context       map[string]any `json:"context,omitempty"`
}

// Transition records a confirmed regime boundary crossing.
type Transition struct {
	Timestamp         time.Time      `json:"timestamp"`
	FromRegime        regime.Regime  `json:"from_regime"`
	ToRegime          regime.Regime  `json:"to_regime"`
	Type              TransitionType `json:"transition_type"`
	Level             float64        `json:"level"`
	DurationInPrevious time.Duration `json:"duration_in_previous_regime"`
	ImpactScore       float64        `json:"impact_score"`
	Implications      []string       `json:"implications"`
}

// DecisionRecord ties a trading decision outcome to the regime it was
// taken under.
type DecisionRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	DecisionType string         `json:"decision_type"`
	Regime       regime.Regime  `json:"regime"`
	Level        float64        `json:"level"`
	Outcome      string         `json:"outcome"` // "success", "failure", "neutral"
	Impact       float64        `json:"vix_impact"`
	Context      map[string]any `json:"context,omitempty"`
}

// RegimeStats aggregates decision outcomes per regime. The level
// average is an exponential moving average.
type RegimeStats struct {
	Regime            regime.Regime `json:"regime"`
	TotalDecisions    int           `json:"total_decisions"`
	Successful        int           `json:"successful_decisions"`
	Failed            int           `json:"failed_decisions"`
	SuccessRate       float64       `json:"success_rate"`
	AvgLevel          float64       `json:"avg_vix_level"`
	MinLevel          float64       `json:"min_vix_level"`
	MaxLevel          float64       `json:"max_vix_level"`
	AvgDecisionImpact float64       `json:"avg_decision_impact"`
	LastActivity      time.Time     `json:"last_activity"`
}

// emaAlpha smooths the per-regime level average.
const emaAlpha = 0.1

// Tracker is the VIX regime state machine. Safe for concurrent use.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	current     regime.Regime
	level       float64
	regimeSince time.Time
	last        *Snapshot

	snapshots   []Snapshot
	transitions []Transition
	decisions   []DecisionRecord

	stats map[regime.Regime]*RegimeStats

	dispatcher *alerts.Dispatcher

	now func() time.Time
}

// NewTracker creates a tracker; a nil dispatcher disables alerts, a
// zero config gets defaults.
func NewTracker(cfg Config, dispatcher *alerts.Dispatcher) *Tracker {
	if cfg.MaxHistorySize <= 0 {
		cfg = DefaultConfig()
	}
	t := &Tracker{
		cfg:        cfg,
		stats:      make(map[regime.Regime]*RegimeStats),
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, r := range []regime.Regime{regime.Normal, regime.HighVol, regime.Extreme} {
		t.stats[r] = &RegimeStats{Regime: r, MinLevel: math.Inf(1)}
	}
	return t
}

// Update ingests one VIX reading: derives change and trend against the
// previous snapshot, commits the regime, records a transition when the
// debounce guard allows, and raises threshold alerts regardless of the
// debounce.
func (t *Tracker) Update(level float64, ctx map[string]any) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	newRegime := regime.Classify(level, t.cfg.Thresholds)

	var change, changePct float64
	trend := TrendStable
	if t.last != nil {
		change = level - t.last.Level
		if t.last.Level > 0 {
			changePct = change / t.last.Level * 100
		}
		if changePct > t.cfg.TrendBand {
			trend = TrendIncreasing
		} else if changePct < -t.cfg.TrendBand {
			trend = TrendDecreasing
		}
	}

	snap := Snapshot{
		Timestamp:     now,
		Level:         level,
		Regime:        newRegime,
		Change:        change,
		ChangePercent: changePct,
		Trend:         trend,
		Context:       ctx,
	}

	if t.last == nil {
		t.regimeSince = now
	} else if newRegime != t.current {
		elapsed := now.Sub(t.regimeSince)
		if elapsed >= t.cfg.MinRegimeDuration {
			t.recordTransitionLocked(snap, elapsed)
		} else {
			log.Debug().Str("from", string(t.current)).Str("to", string(newRegime)).
				Dur("elapsed", elapsed).Msg("regime transition debounced")
		}
		t.regimeSince = now
	}

	t.checkAlertsLocked(snap)

	t.current = newRegime
	t.level = level
	t.last = &snap

	t.snapshots = append(t.snapshots, snap)
	if len(t.snapshots) > t.cfg.MaxHistorySize {
		t.snapshots = t.snapshots[1:]
	}

	t.updateLevelStatsLocked(newRegime, level, now)

	return snap
}

// RecordDecision attributes a trading decision outcome to the current
// regime and updates its statistics.
func (t *Tracker) RecordDecision(decisionType, outcome string, vixImpact float64, ctx map[string]any) DecisionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg := t.current
	if reg == "" {
		reg = regime.Normal
	}
	rec := DecisionRecord{
		Timestamp:    t.now(),
		DecisionType: decisionType,
		Regime:       reg,
		Level:        t.level,
		Outcome:      outcome,
		Impact:       vixImpact,
		Context:      ctx,
	}
	t.decisions = append(t.decisions, rec)
	if len(t.decisions) > t.cfg.MaxHistorySize {
		t.decisions = t.decisions[1:]
	}

	stats := t.stats[reg]
	stats.TotalDecisions++
	switch outcome {
	case "success":
		stats.Successful++
	case "failure":
		stats.Failed++
	}
	if stats.TotalDecisions > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalDecisions)
	}
	// Running mean over decision impacts.
	stats.AvgDecisionImpact += (vixImpact - stats.AvgDecisionImpact) / float64(stats.TotalDecisions)
	stats.LastActivity = rec.Timestamp

	return rec
}

// CurrentRegime returns the committed regime, defaulting to NORMAL
// before the first update.
func (t *Tracker) CurrentRegime() regime.Regime {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == "" {
		return regime.Normal
	}
	return t.current
}

// Level returns the last ingested VIX level.
func (t *Tracker) Level() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.level
}

// Transitions returns the recorded transitions, oldest first.
func (t *Tracker) Transitions() []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Transition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

// Stats returns a copy of the per-regime statistics.
func (t *Tracker) Stats() map[regime.Regime]RegimeStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[regime.Regime]RegimeStats, len(t.stats))
	for r, s := range t.stats {
		out[r] = *s
	}
	return out
}

// Summary is the exportable tracker state.
type Summary struct {
	Timestamp      time.Time                     `json:"timestamp"`
	Level          float64                       `json:"level"`
	Regime         regime.Regime                 `json:"regime"`
	RegimeSince    time.Time                     `json:"regime_since"`
	SnapshotCount  int                           `json:"snapshot_count"`
	TransitionCount int                          `json:"transition_count"`
	DecisionCount  int                           `json:"decision_count"`
	Stats          map[regime.Regime]RegimeStats `json:"regime_stats"`
}

// Summary returns the exportable tracker state.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := make(map[regime.Regime]RegimeStats, len(t.stats))
	for r, s := range t.stats {
		stats[r] = *s
	}
	reg := t.current
	if reg == "" {
		reg = regime.Normal
	}
	return Summary{
		Timestamp:       t.now(),
		Level:           t.level,
		Regime:          reg,
		RegimeSince:     t.regimeSince,
		SnapshotCount:   len(t.snapshots),
		TransitionCount: len(t.transitions),
		DecisionCount:   len(t.decisions),
		Stats:           stats,
	}
}

func (t *Tracker) recordTransitionLocked(snap Snapshot, elapsed time.Duration) {
	tr := Transition{
		Timestamp:          snap.Timestamp,
		FromRegime:         t.current,
		ToRegime:           snap.Regime,
		Type:               t.classifyTransition(snap),
		Level:              snap.Level,
		DurationInPrevious: elapsed,
		ImpactScore:        t.transitionImpact(snap),
		Implications:       implications(snap),
	}
	t.transitions = append(t.transitions, tr)
	if len(t.transitions) > t.cfg.MaxHistorySize {
		t.transitions = t.transitions[1:]
	}
	log.Info().Str("from", string(tr.FromRegime)).Str("to", string(tr.ToRegime)).
		Str("type", string(tr.Type)).Float64("level", tr.Level).
		Float64("impact", tr.ImpactScore).Msg("vix regime transition")
}

func (t *Tracker) classifyTransition(snap Snapshot) TransitionType {
	switch {
	case snap.ChangePercent > t.cfg.SpikePercent:
		return TransitionSpike
	case snap.ChangePercent < t.cfg.CrashPercent:
		return TransitionCrash
	case snap.Level > t.cfg.ExtremeLevel:
		return TransitionVolExplosion
	case snap.Level < t.cfg.CalmLevel:
		return TransitionCalmPeriod
	default:
		return TransitionRegimeChange
	}
}

// transitionImpact combines the destination regime's base weight with
// the normalized change magnitude, capped at 1.
func (t *Tracker) transitionImpact(snap Snapshot) float64 {
	base := 0.4
	switch snap.Regime {
	case regime.HighVol:
		base = 0.7
	case regime.Extreme:
		base = 1.0
	}
	impact := base + math.Abs(snap.ChangePercent)/100*0.3
	return math.Min(1.0, impact)
}

func implications(snap Snapshot) []string {
	var out []string
	switch snap.Regime {
	case regime.Extreme:
		out = append(out,
			"reduce position sizing",
			"widen stop losses",
			"avoid overnight exposure",
			"watch opening gaps")
	case regime.HighVol:
		out = append(out,
			"conservative position sizing",
			"tighten stops",
			"avoid breakout entries")
	default:
		out = append(out,
			"normal position sizing",
			"favor breakout entries",
			"wider stops acceptable")
	}
	if snap.ChangePercent > 20 {
		out = append(out, "wait for stabilization before trading")
	} else if snap.ChangePercent < -15 {
		out = append(out, "re-entry opportunity as volatility recedes")
	}
	return out
}

// checkAlertsLocked raises threshold alerts on every update,
// independent of the transition debounce: operators want immediate
// notice even without a confirmed regime change.
func (t *Tracker) checkAlertsLocked(snap Snapshot) {
	if t.dispatcher == nil {
		return
	}
	if snap.Level > t.cfg.ExtremeLevel {
		t.emitLocked("extreme_vix", alerts.SeverityCritical,
			fmt.Sprintf("VIX at extreme level: %.2f", snap.Level), snap)
	}
	if snap.ChangePercent > t.cfg.SpikePercent {
		t.emitLocked("vix_spike", alerts.SeverityHigh,
			fmt.Sprintf("VIX spike: %+.1f%% to %.2f", snap.ChangePercent, snap.Level), snap)
	}
	if snap.ChangePercent < t.cfg.CrashPercent {
		t.emitLocked("vix_crash", alerts.SeverityMedium,
			fmt.Sprintf("VIX crash: %.1f%% to %.2f", snap.ChangePercent, snap.Level), snap)
	}
	if snap.Level < t.cfg.CalmLevel {
		t.emitLocked("calm_period", alerts.SeverityLow,
			fmt.Sprintf("VIX very calm: %.2f", snap.Level), snap)
	}
}

func (t *Tracker) emitLocked(alertType string, severity alerts.Severity, msg string, snap Snapshot) {
	t.dispatcher.Emit(alerts.Alert{
		Timestamp: snap.Timestamp,
		Severity:  severity,
		Component: "vix_tracker",
		Type:      alertType,
		Message:   msg,
		Context: map[string]any{
			"level":          snap.Level,
			"regime":         string(snap.Regime),
			"change_percent": snap.ChangePercent,
		},
	})
}

func (t *Tracker) updateLevelStatsLocked(reg regime.Regime, level float64, now time.Time) {
	stats := t.stats[reg]
	if level < stats.MinLevel {
		stats.MinLevel = level
	}
	if level > stats.MaxLevel {
		stats.MaxLevel = level
	}
	if stats.AvgLevel == 0 {
		stats.AvgLevel = level
	} else {
		stats.AvgLevel = emaAlpha*level + (1-emaAlpha)*stats.AvgLevel
	}
	stats.LastActivity = now
}
