// Package latency measures wall-clock duration of each pipeline stage,
// keeps rolling per-stage statistics, and raises threshold alerts:
// high latency, timeouts, bottlenecks, and degradations.
package latency

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/alerts"
)

// Stage names one pipeline stage for latency accounting.
type Stage string

// Decision pipeline stages.
const (
	StageStalenessCheck Stage = "staleness_check"
	StageSignalExtract  Stage = "signal_extraction"
	StageVIXUpdate      Stage = "vix_update"
	StageScoreCalc      Stage = "score_calculation"
	StageDecision       Stage = "trade_decision"
	StageLogging        Stage = "logging"
)

// Config holds per-stage thresholds (ms) and the alert multipliers.
type Config struct {
	ThresholdsMs map[Stage]float64 `yaml:"thresholds_ms"`

	// HighLatencyMultiplier of the stage threshold triggers HIGH_LATENCY.
	HighLatencyMultiplier float64 `yaml:"high_latency_multiplier" default:"2.0"`

	// TimeoutCeiling is the absolute wall-clock ceiling per stage.
	TimeoutCeiling time.Duration `yaml:"timeout_ceiling" default:"5s"`

	// BottleneckShare of the total run spent in one stage triggers
	// PIPELINE_BOTTLENECK.
	BottleneckShare float64 `yaml:"bottleneck_share" default:"0.8"`

	// DegradationRatio vs the stage's rolling average triggers
	// PERFORMANCE_DEGRADATION.
	DegradationRatio float64 `yaml:"degradation_ratio" default:"1.5"`

	MaxHistorySize int `yaml:"max_history_size" default:"1000" validate:"gt=0"`
}

// DefaultConfig returns production stage thresholds.
func DefaultConfig() Config {
	return Config{
		ThresholdsMs: map[Stage]float64{
			StageStalenessCheck: 25,
			StageSignalExtract:  50,
			StageVIXUpdate:      25,
			StageScoreCalc:      30,
			StageDecision:       50,
			StageLogging:        25,
		},
		HighLatencyMultiplier: 2.0,
		TimeoutCeiling:        5 * time.Second,
		BottleneckShare:       0.8,
		DegradationRatio:      1.5,
		MaxHistorySize:        1000,
	}
}

// Measurement is one stage timing within a run.
type Measurement struct {
	Stage      Stage     `json:"stage"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs float64   `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// PipelineLatency owns the ordered stage measurements of exactly one
// decision run.
type PipelineLatency struct {
	RunID      string        `json:"run_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	TotalMs    float64       `json:"total_ms"`
	Stages     []Measurement `json:"stages"`
	Success    bool          `json:"success"`
}

// StageStats are the rolling statistics for one stage. The average is
// an exponential moving average (α=0.1); percentiles cover the last
// 100 successful samples.
type StageStats struct {
	Stage      Stage     `json:"stage"`
	Count      int       `json:"count"`
	Successful int       `json:"successful"`
	AvgMs      float64   `json:"avg_ms"`
	MinMs      float64   `json:"min_ms"`
	MaxMs      float64   `json:"max_ms"`
	P50Ms      float64   `json:"p50_ms"`
	P95Ms      float64   `json:"p95_ms"`
	P99Ms      float64   `json:"p99_ms"`
	ErrorRate  float64   `json:"error_rate"`
	LastAt     time.Time `json:"last_at"`
}

// emaAlpha smooths the per-stage rolling average.
const emaAlpha = 0.1

type openRun struct {
	id     string
	start  time.Time
	stages []Measurement
	open   map[Stage]time.Time
}

// Tracker brackets pipeline stages with wall-clock timing. Multiple
// runs may be in flight concurrently, each under its own run ID. Safe
// for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	cfg   Config
	runs  map[string]*openRun
	stats map[Stage]*StageStats
	hists map[Stage]*Histogram

	completed []PipelineLatency

	dispatcher *alerts.Dispatcher

	now func() time.Time
}

// NewTracker creates a tracker; a nil dispatcher disables alerts, a
// zero config gets defaults.
func NewTracker(cfg Config, dispatcher *alerts.Dispatcher) *Tracker {
	if len(cfg.ThresholdsMs) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.HighLatencyMultiplier <= 0 {
		cfg.HighLatencyMultiplier = 2.0
	}
	if cfg.TimeoutCeiling <= 0 {
		cfg.TimeoutCeiling = 5 * time.Second
	}
	if cfg.BottleneckShare <= 0 {
		cfg.BottleneckShare = 0.8
	}
	if cfg.DegradationRatio <= 0 {
		cfg.DegradationRatio = 1.5
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 1000
	}
	return &Tracker{
		cfg:        cfg,
		runs:       make(map[string]*openRun),
		stats:      make(map[Stage]*StageStats),
		hists:      make(map[Stage]*Histogram),
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartPipeline opens a new run and returns its ID.
func (t *Tracker) StartPipeline() string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = &openRun{
		id:    id,
		start: t.now(),
		open:  make(map[Stage]time.Time),
	}
	return id
}

// StartStage opens a stage timer within the run. Unknown runs are
// logged and ignored.
func (t *Tracker) StartStage(runID string, stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Str("stage", string(stage)).
			Msg("start stage on unknown run")
		return
	}
	run.open[stage] = t.now()
}

// EndStage closes a stage timer, updates stats, and checks alerts.
// Ending a stage that was never started is a logged no-op, never a
// panic.
func (t *Tracker) EndStage(runID string, stage Stage, success bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Str("stage", string(stage)).
			Msg("end stage on unknown run")
		return
	}
	start, ok := run.open[stage]
	if !ok {
		log.Warn().Str("run_id", runID).Str("stage", string(stage)).
			Msg("end stage without matching start")
		return
	}
	delete(run.open, stage)

	end := t.now()
	m := Measurement{
		Stage:      stage,
		Start:      start,
		End:        end,
		DurationMs: float64(end.Sub(start).Microseconds()) / 1000,
		Success:    success,
	}
	if err != nil {
		m.Error = err.Error()
	}
	run.stages = append(run.stages, m)

	// The degradation check compares against the average as it stood
	// before this sample was folded in.
	var prevAvg float64
	var prevCount int
	if s, ok := t.stats[stage]; ok {
		prevAvg, prevCount = s.AvgMs, s.Count
	}
	t.updateStatsLocked(m)
	t.checkStageAlertsLocked(m, prevAvg, prevCount)
}

// EndPipeline closes the run. Any stage still open is closed as failed
// so cancellation never orphans a timer. A run with no stages still
// yields a valid zero-duration PipelineLatency.
func (t *Tracker) EndPipeline(runID string, success bool) PipelineLatency {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Msg("end pipeline on unknown run")
		return PipelineLatency{RunID: runID}
	}
	delete(t.runs, runID)

	end := t.now()
	for stage, start := range run.open {
		m := Measurement{
			Stage:      stage,
			Start:      start,
			End:        end,
			DurationMs: float64(end.Sub(start).Microseconds()) / 1000,
			Success:    false,
			Error:      "stage interrupted",
		}
		run.stages = append(run.stages, m)
		t.updateStatsLocked(m)
	}

	pl := PipelineLatency{
		RunID:   run.id,
		Start:   run.start,
		End:     end,
		TotalMs: float64(end.Sub(run.start).Microseconds()) / 1000,
		Stages:  run.stages,
		Success: success,
	}

	t.completed = append(t.completed, pl)
	if len(t.completed) > t.cfg.MaxHistorySize {
		t.completed = t.completed[1:]
	}

	t.checkBottleneckLocked(pl)
	return pl
}

// Stats returns a copy of the rolling per-stage statistics.
func (t *Tracker) Stats() map[Stage]StageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Stage]StageStats, len(t.stats))
	for stage, s := range t.stats {
		snapshot := *s
		if h, ok := t.hists[stage]; ok {
			snapshot.P50Ms = h.P50()
			snapshot.P95Ms = h.P95()
			snapshot.P99Ms = h.P99()
		}
		out[stage] = snapshot
	}
	return out
}

// Recent returns up to n completed runs, newest first.
func (t *Tracker) Recent(n int) []PipelineLatency {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.completed) {
		n = len(t.completed)
	}
	out := make([]PipelineLatency, 0, n)
	for i := len(t.completed) - 1; i >= len(t.completed)-n; i-- {
		out = append(out, t.completed[i])
	}
	return out
}

func (t *Tracker) updateStatsLocked(m Measurement) {
	s, ok := t.stats[m.Stage]
	if !ok {
		s = &StageStats{Stage: m.Stage, MinMs: math.Inf(1)}
		t.stats[m.Stage] = s
	}
	s.Count++
	s.LastAt = m.End
	if m.Success {
		s.Successful++
		h, ok := t.hists[m.Stage]
		if !ok {
			h = NewHistogram(windowSize)
			t.hists[m.Stage] = h
		}
		h.Record(m.DurationMs)
	}
	if m.DurationMs < s.MinMs {
		s.MinMs = m.DurationMs
	}
	if m.DurationMs > s.MaxMs {
		s.MaxMs = m.DurationMs
	}
	if s.AvgMs == 0 {
		s.AvgMs = m.DurationMs
	} else {
		s.AvgMs = emaAlpha*m.DurationMs + (1-emaAlpha)*s.AvgMs
	}
	s.ErrorRate = float64(s.Count-s.Successful) / float64(s.Count)
}

func (t *Tracker) checkStageAlertsLocked(m Measurement, prevAvg float64, prevCount int) {
	if t.dispatcher == nil {
		return
	}
	threshold, ok := t.cfg.ThresholdsMs[m.Stage]
	if !ok {
		threshold = 100
	}

	if m.DurationMs > threshold*t.cfg.HighLatencyMultiplier {
		t.emit("HIGH_LATENCY", alerts.SeverityHigh, m.Stage,
			fmt.Sprintf("stage %s took %.1fms (threshold %.1fms)", m.Stage, m.DurationMs, threshold),
			m.DurationMs, threshold)
	}
	ceilingMs := float64(t.cfg.TimeoutCeiling.Milliseconds())
	if m.DurationMs > ceilingMs {
		t.emit("TIMEOUT", alerts.SeverityCritical, m.Stage,
			fmt.Sprintf("stage %s took %.1fms, over the %.0fms ceiling", m.Stage, m.DurationMs, ceilingMs),
			m.DurationMs, ceilingMs)
	}
	if prevCount > 0 && prevAvg > 0 && m.DurationMs > prevAvg*t.cfg.DegradationRatio {
		t.emit("PERFORMANCE_DEGRADATION", alerts.SeverityMedium, m.Stage,
			fmt.Sprintf("stage %s took %.1fms against a %.1fms rolling average", m.Stage, m.DurationMs, prevAvg),
			m.DurationMs, prevAvg*t.cfg.DegradationRatio)
	}
}

func (t *Tracker) checkBottleneckLocked(pl PipelineLatency) {
	if t.dispatcher == nil || len(pl.Stages) == 0 || pl.TotalMs <= 0 {
		return
	}
	slowest := pl.Stages[0]
	for _, m := range pl.Stages[1:] {
		if m.DurationMs > slowest.DurationMs {
			slowest = m
		}
	}
	if slowest.DurationMs >= pl.TotalMs*t.cfg.BottleneckShare {
		t.emit("PIPELINE_BOTTLENECK", alerts.SeverityMedium, slowest.Stage,
			fmt.Sprintf("stage %s consumed %.1f%% of run %s (%.1fms of %.1fms)",
				slowest.Stage, slowest.DurationMs/pl.TotalMs*100, pl.RunID, slowest.DurationMs, pl.TotalMs),
			slowest.DurationMs, pl.TotalMs*t.cfg.BottleneckShare)
	}
}

func (t *Tracker) emit(alertType string, severity alerts.Severity, stage Stage, msg string, durationMs, thresholdMs float64) {
	t.dispatcher.Emit(alerts.Alert{
		Severity:  severity,
		Component: "latency_tracker",
		Type:      alertType,
		Message:   msg,
		Context: map[string]any{
			"stage":        string(stage),
			"duration_ms":  durationMs,
			"threshold_ms": thresholdMs,
		},
	})
}
