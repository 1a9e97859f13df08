// Package pipeline sequences the decision stages (staleness gate,
// order-flow extraction, VIX update, scoring, decision policy) into
// one auditable TradingDecision per run, with every stage bracketed by
// the latency tracker.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/domain/regime"
	"github.com/jackson97300/mia-core/internal/domain/staleness"
	"github.com/jackson97300/mia-core/internal/domain/vix"
	"github.com/jackson97300/mia-core/internal/metrics"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

// Config holds the decision policy thresholds.
type Config struct {
	// MinFinalScore below which a run is rejected.
	MinFinalScore float64 `yaml:"min_final_score" default:"0.6" validate:"gte=0,lte=1"`

	// RequiredSources must all be fresh (non-CRITICAL) before scoring.
	RequiredSources []string `yaml:"required_sources"`

	// SweepInterval drives the background staleness sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" default:"30s"`
}

// DefaultConfig returns the standard policy settings.
func DefaultConfig() Config {
	return Config{MinFinalScore: 0.6, SweepInterval: 30 * time.Second}
}

// Orchestrator owns the pipeline components by explicit injection; no
// hidden process-wide singletons. Safe for concurrent runs: each run
// owns its own run ID, components guard their own state.
type Orchestrator struct {
	cfg        Config
	analyzer   *orderflow.Analyzer
	staleness  *staleness.Manager
	vixTracker *vix.Tracker
	scorer     *scoring.Calculator
	tracker    *latency.Tracker
	dispatcher *alerts.Dispatcher
	metrics    *metrics.Metrics

	mu       sync.Mutex
	counters Counters
	latest   *Decision
}

// New wires the orchestrator. Metrics and dispatcher may be nil.
func New(cfg Config, analyzer *orderflow.Analyzer, stale *staleness.Manager,
	vixTracker *vix.Tracker, scorer *scoring.Calculator, tracker *latency.Tracker,
	dispatcher *alerts.Dispatcher, m *metrics.Metrics) *Orchestrator {
	if cfg.MinFinalScore <= 0 {
		cfg.MinFinalScore = 0.6
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		analyzer:   analyzer,
		staleness:  stale,
		vixTracker: vixTracker,
		scorer:     scorer,
		tracker:    tracker,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// Process runs one decision end to end. It always returns a decision:
// stage errors and cancellations produce a REJECT with the cause as
// the sole reason. Only a malformed snapshot surfaces as an error.
func (o *Orchestrator) Process(ctx context.Context, in RunInput) (*Decision, error) {
	runID := o.tracker.StartPipeline()
	state := StateStarted

	decision := &Decision{
		ID:        runID,
		Timestamp: time.Now().UTC(),
		Symbol:    in.Snapshot.Symbol,
		VIXLevel:  in.VIXLevel,
	}

	finish := func(action Action, reasons []string, success bool) *Decision {
		decision.Action = action
		decision.Reasons = reasons
		decision.State = StateDecided

		o.tracker.StartStage(runID, latency.StageLogging)
		o.logDecision(decision)
		o.tracker.EndStage(runID, latency.StageLogging, true, nil)
		decision.State = StateLogged

		pl := o.tracker.EndPipeline(runID, success)
		decision.LatencyMs = pl.TotalMs
		o.recordOutcome(decision, pl)
		return decision
	}

	abort := func(stage latency.Stage, err error) *Decision {
		o.tracker.EndStage(runID, stage, false, err)
		o.counterError()
		return finish(ActionReject, []string{err.Error()}, false)
	}

	// Stage 1: staleness gate over all required sources.
	if err := ctx.Err(); err != nil {
		return finish(ActionReject, []string{"run cancelled before start"}, false), nil
	}
	o.tracker.StartStage(runID, latency.StageStalenessCheck)
	summary := o.staleness.CheckAll(in.VIXLevel, time.Now().UTC())
	o.observeStaleness(summary)
	var staleCritical []string
	for _, id := range o.cfg.RequiredSources {
		res, ok := summary.Sources[id]
		if !ok {
			res = o.staleness.Check(id, in.VIXLevel, time.Now().UTC())
		}
		if res.Severity == staleness.SeverityCritical {
			staleCritical = append(staleCritical, id)
		}
	}
	o.tracker.EndStage(runID, latency.StageStalenessCheck, true, nil)
	state = StateStalenessChecked

	// Stage 2: order-flow signal extraction.
	if err := ctx.Err(); err != nil {
		return finish(ActionReject, []string{"run cancelled during " + string(state)}, false), nil
	}
	o.tracker.StartStage(runID, latency.StageSignalExtract)
	signal, err := o.analyzer.Analyze(in.Snapshot)
	if err != nil {
		d := abort(latency.StageSignalExtract, fmt.Errorf("signal extraction: %w", err))
		return d, err
	}
	decision.Signal = signal
	o.tracker.EndStage(runID, latency.StageSignalExtract, true, nil)
	state = StateSignalExtracted

	// Stage 3: VIX regime update.
	if err := ctx.Err(); err != nil {
		return finish(ActionReject, []string{"run cancelled during " + string(state)}, false), nil
	}
	o.tracker.StartStage(runID, latency.StageVIXUpdate)
	vixSnap := o.vixTracker.Update(in.VIXLevel, map[string]any{"symbol": in.Snapshot.Symbol})
	decision.VIXRegime = vixSnap.Regime
	if o.metrics != nil {
		o.metrics.VIXLevel.Set(in.VIXLevel)
	}
	o.tracker.EndStage(runID, latency.StageVIXUpdate, true, nil)

	// Stage 4: composite scoring.
	if err := ctx.Err(); err != nil {
		return finish(ActionReject, []string{"run cancelled during " + string(state)}, false), nil
	}
	o.tracker.StartStage(runID, latency.StageScoreCalc)
	policy := in.Policy
	if policy == "" {
		policy = policyForRegime(vixSnap.Regime)
	}
	score := o.scorer.Calculate(in.MenthorQ, in.BattleNavale, scoring.VIXInput{
		Level:  in.VIXLevel,
		Regime: string(vixSnap.Regime),
		Policy: policy,
	})
	decision.Score = &score
	if o.metrics != nil {
		o.metrics.FinalScore.Observe(score.FinalScore)
	}
	o.tracker.EndStage(runID, latency.StageScoreCalc, score.SignalStrength != scoring.StrengthError, nil)
	state = StateScored

	// Stage 5: decision policy.
	o.tracker.StartStage(runID, latency.StageDecision)
	action, reasons := o.decide(signal, staleCritical, score, vixSnap.Regime)
	o.tracker.EndStage(runID, latency.StageDecision, true, nil)

	return finish(action, reasons, action == ActionAccept), nil
}

// decide applies the policy: reject on nil signal, critical staleness
// of a required source, score below threshold, or EXTREME regime.
func (o *Orchestrator) decide(signal *orderflow.Signal, staleCritical []string,
	score scoring.ScoreResult, reg regime.Regime) (Action, []string) {
	var reasons []string

	if signal == nil {
		reasons = append(reasons, "no validated order-flow signal")
	}
	for _, id := range staleCritical {
		reasons = append(reasons, fmt.Sprintf("required source %s is critically stale", id))
	}
	if reg == regime.Extreme {
		reasons = append(reasons, "VIX regime is EXTREME")
	}
	if score.FinalScore < o.cfg.MinFinalScore {
		reasons = append(reasons, fmt.Sprintf("final score %.3f below %.2f threshold",
			score.FinalScore, o.cfg.MinFinalScore))
	}

	if len(reasons) > 0 {
		return ActionReject, reasons
	}
	return ActionAccept, []string{
		fmt.Sprintf("final score %.3f with %s signal under %s regime",
			score.FinalScore, signal.Type, reg),
		fmt.Sprintf("confidence %.2f, strength %s", score.ConfidenceLevel, score.SignalStrength),
	}
}

// Latest returns the most recent decision, or nil.
func (o *Orchestrator) Latest() *Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latest == nil {
		return nil
	}
	cp := *o.latest
	return &cp
}

// Counters returns a copy of the run counters.
func (o *Orchestrator) Counters() Counters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters
}

// Monitor runs the periodic staleness sweep and pipeline health check
// until the context is cancelled. It never blocks decision-path runs.
func (o *Orchestrator) Monitor(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("pipeline monitor stopped")
			return
		case <-ticker.C:
			summary := o.staleness.CheckAll(o.vixTracker.Level(), time.Now().UTC())
			o.observeStaleness(summary)
			o.sweepAlerts(summary)
			o.latencyHealth()
		}
	}
}

// latencyHealth inspects the recent run window and alerts when more
// than half the runs failed. Per-stage threshold alerts fire inline in
// the tracker; this catches sustained pipeline-level failure.
func (o *Orchestrator) latencyHealth() {
	if o.dispatcher == nil {
		return
	}
	recent := o.tracker.Recent(20)
	if len(recent) < 5 {
		return
	}
	failed := 0
	for _, run := range recent {
		if !run.Success {
			failed++
		}
	}
	if failed*2 <= len(recent) {
		return
	}
	o.dispatcher.Emit(alerts.Alert{
		Severity:  alerts.SeverityHigh,
		Component: "pipeline",
		Type:      "PIPELINE_DEGRADED",
		Message:   fmt.Sprintf("%d of last %d runs failed", failed, len(recent)),
		Context:   map[string]any{"failed": failed, "window": len(recent)},
	})
}

func (o *Orchestrator) sweepAlerts(summary staleness.Summary) {
	if o.dispatcher == nil {
		return
	}
	for id, res := range summary.Sources {
		switch res.Severity {
		case staleness.SeverityCritical:
			o.dispatcher.Emit(alerts.Alert{
				Severity:  alerts.SeverityCritical,
				Component: "staleness_manager",
				Type:      "STALE_SOURCE",
				Message:   fmt.Sprintf("source %s critically stale: %s", id, res.Message),
				Context:   map[string]any{"source": id, "age_seconds": res.AgeSeconds},
			})
		case staleness.SeverityWarning:
			o.dispatcher.Emit(alerts.Alert{
				Severity:  alerts.SeverityMedium,
				Component: "staleness_manager",
				Type:      "AGING_SOURCE",
				Message:   fmt.Sprintf("source %s approaching max age: %s", id, res.Message),
				Context:   map[string]any{"source": id, "age_seconds": res.AgeSeconds},
			})
		}
	}
}

func (o *Orchestrator) observeStaleness(summary staleness.Summary) {
	if o.metrics == nil {
		return
	}
	ok := summary.TotalSources - summary.WarningCount - summary.CriticalCount
	o.metrics.StaleSources.WithLabelValues("ok").Set(float64(ok))
	o.metrics.StaleSources.WithLabelValues("warning").Set(float64(summary.WarningCount))
	o.metrics.StaleSources.WithLabelValues("critical").Set(float64(summary.CriticalCount))
}

func (o *Orchestrator) recordOutcome(d *Decision, pl latency.PipelineLatency) {
	o.mu.Lock()
	o.counters.Processed++
	if d.Action == ActionAccept {
		o.counters.Accepted++
	} else {
		o.counters.Rejected++
		for _, r := range d.Reasons {
			if strings.Contains(r, "stale") {
				o.counters.BlockedByStaleness++
				break
			}
		}
	}
	o.latest = d
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
		for _, m := range pl.Stages {
			o.metrics.StageDuration.WithLabelValues(string(m.Stage)).Observe(m.DurationMs)
		}
	}

	outcome := "neutral"
	if d.Action == ActionAccept {
		outcome = "success"
	}
	impact := 0.0
	if d.Score != nil {
		for _, trace := range d.Score.Components {
			if trace.Component == scoring.ComponentVIXRegime {
				impact = trace.RawScore
			}
		}
	}
	o.vixTracker.RecordDecision(string(d.Action), outcome, impact, map[string]any{"run_id": d.ID})
}

func (o *Orchestrator) counterError() {
	o.mu.Lock()
	o.counters.Errors++
	o.mu.Unlock()
}

func (o *Orchestrator) logDecision(d *Decision) {
	evt := log.Info()
	if d.Action == ActionReject {
		evt = log.Warn()
	}
	evt.Str("run_id", d.ID).Str("symbol", d.Symbol).Str("action", string(d.Action)).
		Strs("reasons", d.Reasons).Float64("vix", d.VIXLevel).
		Str("regime", string(d.VIXRegime)).Msg("trading decision")
}

// policyForRegime maps the regime to the volatility policy consumed by
// the scoring component.
func policyForRegime(r regime.Regime) string {
	switch r {
	case regime.Extreme:
		return "extreme"
	case regime.HighVol:
		return "high"
	default:
		return "normal"
	}
}

