// Package export renders the pull-based JSON documents consumed by
// operators: latency summaries and scoring summaries, each with its
// recent alerts.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

// recentAlertCount bounds the alerts included in an export document.
const recentAlertCount = 50

// LatencyExporter renders {summary, stagePerformance, recentAlerts}.
type LatencyExporter struct {
	Tracker    *latency.Tracker
	Dispatcher *alerts.Dispatcher
}

// Export renders the latency document. Only "json" is supported.
func (e *LatencyExporter) Export(format string) (string, error) {
	if format != "json" {
		return "", fmt.Errorf("unsupported export format: %q", format)
	}

	stats := e.Tracker.Stats()
	recent := e.Tracker.Recent(recentAlertCount)

	var totalMs float64
	successes := 0
	for _, run := range recent {
		totalMs += run.TotalMs
		if run.Success {
			successes++
		}
	}
	avgMs := 0.0
	successRate := 0.0
	if len(recent) > 0 {
		avgMs = totalMs / float64(len(recent))
		successRate = float64(successes) / float64(len(recent))
	}

	doc := map[string]any{
		"summary": map[string]any{
			"generated_at":     time.Now().UTC(),
			"recent_runs":      len(recent),
			"avg_total_ms":     avgMs,
			"run_success_rate": successRate,
		},
		"stagePerformance": stats,
		"recentAlerts":     e.recentAlerts(),
	}
	return marshal(doc)
}

func (e *LatencyExporter) recentAlerts() []alerts.Alert {
	if e.Dispatcher == nil {
		return nil
	}
	return filterComponent(e.Dispatcher.Recent(recentAlertCount), "latency_tracker")
}

// ScoringExporter renders {summary, componentPerformance, recentAlerts,
// scoreTrends}.
type ScoringExporter struct {
	Calculator *scoring.Calculator
	Dispatcher *alerts.Dispatcher
}

// Export renders the scoring document. Only "json" is supported.
func (e *ScoringExporter) Export(format string) (string, error) {
	if format != "json" {
		return "", fmt.Errorf("unsupported export format: %q", format)
	}

	stats := e.Calculator.Statistics()
	recent := e.Calculator.Recent(recentAlertCount)

	trends := make([]map[string]any, 0, len(recent))
	componentAvgs := make(map[scoring.Component]float64)
	componentCounts := make(map[scoring.Component]int)
	for _, r := range recent {
		trends = append(trends, map[string]any{
			"timestamp":   r.Timestamp,
			"final_score": r.FinalScore,
			"confidence":  r.ConfidenceLevel,
			"strength":    r.SignalStrength,
		})
		for _, trace := range r.Components {
			componentAvgs[trace.Component] += trace.RawScore
			componentCounts[trace.Component]++
		}
	}
	componentPerf := make(map[scoring.Component]map[string]any, len(componentAvgs))
	for comp, sum := range componentAvgs {
		componentPerf[comp] = map[string]any{
			"avg_raw_score": sum / float64(componentCounts[comp]),
			"samples":       componentCounts[comp],
		}
	}

	var dispatcherAlerts []alerts.Alert
	if e.Dispatcher != nil {
		dispatcherAlerts = e.Dispatcher.Recent(recentAlertCount)
	}

	doc := map[string]any{
		"summary":              stats,
		"componentPerformance": componentPerf,
		"recentAlerts":         dispatcherAlerts,
		"scoreTrends":          trends,
	}
	return marshal(doc)
}

func filterComponent(in []alerts.Alert, component string) []alerts.Alert {
	out := make([]alerts.Alert, 0, len(in))
	for _, a := range in {
		if a.Component == component {
			out = append(out, a)
		}
	}
	return out
}

func marshal(doc map[string]any) (string, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return string(b), nil
}
