// Package staleness tracks per-source data freshness against
// regime-dependent maximum-age thresholds. It classifies the VIX level
// itself so freshness checks never depend on the regime tracker being
// up.
package staleness

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/domain/regime"
)

// Severity grades how close a source is to its max age.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Config holds the regime-dependent max-age table (minutes) and the
// warning ratio. The table tightens as volatility rises.
type Config struct {
	MaxAgeMinutes map[regime.Regime]int `yaml:"max_age_minutes"`
	WarningRatio  float64               `yaml:"warning_ratio" default:"0.8" validate:"gt=0,lt=1"`
	Thresholds    regime.Thresholds     `yaml:"vix_thresholds"`
}

// DefaultConfig returns the standard max-age table: NORMAL 30m,
// HIGH_VOL 15m, EXTREME 5m.
func DefaultConfig() Config {
	return Config{
		MaxAgeMinutes: map[regime.Regime]int{
			regime.Normal:  30,
			regime.HighVol: 15,
			regime.Extreme: 5,
		},
		WarningRatio: 0.8,
		Thresholds:   regime.DefaultThresholds(),
	}
}

// Source is one registered data source with its update timestamp.
type Source struct {
	ID                string    `json:"source_id"`
	Symbol            string    `json:"symbol"`
	DataType          string    `json:"data_type"`
	LastUpdate        time.Time `json:"last_update"`
	ExpectedFreqSecs  int       `json:"expected_frequency_seconds"`
}

// Result is one freshness verdict, recomputed on demand.
type Result struct {
	SourceID      string        `json:"source_id"`
	IsStale       bool          `json:"is_stale"`
	AgeSeconds    float64       `json:"age_seconds"`
	MaxAgeSeconds float64       `json:"max_age_seconds"`
	Ratio         float64       `json:"staleness_ratio"`
	Regime        regime.Regime `json:"regime"`
	Severity      Severity      `json:"severity"`
	Message       string        `json:"message"`
}

// Summary aggregates one CheckAll pass.
type Summary struct {
	Timestamp     time.Time         `json:"timestamp"`
	VIXLevel      float64           `json:"vix_level"`
	Regime        regime.Regime     `json:"regime"`
	TotalSources  int               `json:"total_sources"`
	StaleSources  int               `json:"stale_sources"`
	WarningCount  int               `json:"warning_sources"`
	CriticalCount int               `json:"critical_sources"`
	AvgAgeSeconds float64           `json:"avg_age_seconds"`
	MaxAgeSeconds float64           `json:"max_age_seconds"`
	Sources       map[string]Result `json:"sources"`
}

// Manager tracks registered sources behind a read-write lock; checks
// vastly outnumber registrations and touches.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	sources map[string]*Source
}

// NewManager creates a manager; a zero config gets defaults.
func NewManager(cfg Config) *Manager {
	if len(cfg.MaxAgeMinutes) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.WarningRatio <= 0 || cfg.WarningRatio >= 1 {
		cfg.WarningRatio = 0.8
	}
	return &Manager{cfg: cfg, sources: make(map[string]*Source)}
}

// Register adds a source for monitoring. Its last update starts at
// registration time. Registering twice overwrites.
func (m *Manager) Register(sourceID, symbol, dataType string, expectedFreqSec int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expectedFreqSec <= 0 {
		expectedFreqSec = 60
	}
	m.sources[sourceID] = &Source{
		ID:               sourceID,
		Symbol:           symbol,
		DataType:         dataType,
		LastUpdate:       time.Now().UTC(),
		ExpectedFreqSecs: expectedFreqSec,
	}
	log.Debug().Str("source", sourceID).Str("symbol", symbol).Str("type", dataType).
		Msg("staleness source registered")
}

// Touch records a fresh update for the source. Unknown sources are
// logged and ignored.
func (m *Manager) Touch(sourceID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[sourceID]
	if !ok {
		log.Warn().Str("source", sourceID).Msg("touch on unregistered source")
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	src.LastUpdate = at.UTC()
}

// Check computes freshness for one source under the regime implied by
// the VIX level. An unregistered source is CRITICAL with infinite age,
// never a panic.
func (m *Manager) Check(sourceID string, vixLevel float64, now time.Time) Result {
	m.mu.RLock()
	src, ok := m.sources[sourceID]
	var lastUpdate time.Time
	if ok {
		lastUpdate = src.LastUpdate
	}
	m.mu.RUnlock()

	reg := regime.Classify(vixLevel, m.cfg.Thresholds)

	if !ok {
		return Result{
			SourceID:   sourceID,
			IsStale:    true,
			AgeSeconds: math.Inf(1),
			Ratio:      math.Inf(1),
			Regime:     reg,
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("unknown source: %s", sourceID),
		}
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	age := now.Sub(lastUpdate).Seconds()
	if age < 0 {
		age = 0
	}
	maxAge := m.maxAgeSeconds(reg)
	ratio := math.Inf(1)
	if maxAge > 0 {
		ratio = age / maxAge
	}

	severity := SeverityOK
	switch {
	case age >= maxAge:
		severity = SeverityCritical
	case age >= m.cfg.WarningRatio*maxAge:
		severity = SeverityWarning
	}
	// Staleness proper is the hard max-age crossing; WARNING is an
	// alerting signal only.
	isStale := age >= maxAge

	res := Result{
		SourceID:      sourceID,
		IsStale:       isStale,
		AgeSeconds:    age,
		MaxAgeSeconds: maxAge,
		Ratio:         ratio,
		Regime:        reg,
		Severity:      severity,
		Message: fmt.Sprintf("%s age %.1fs / max %.0fs (%s)",
			sourceID, age, maxAge, reg),
	}
	if isStale {
		log.Warn().Str("source", sourceID).Float64("age_s", age).
			Float64("max_age_s", maxAge).Str("regime", string(reg)).
			Msg("stale data source")
	}
	return res
}

// CheckAll evaluates every registered source and returns per-source
// results plus aggregate counts.
func (m *Manager) CheckAll(vixLevel float64, now time.Time) Summary {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	if now.IsZero() {
		now = time.Now().UTC()
	}

	sum := Summary{
		Timestamp: now,
		VIXLevel:  vixLevel,
		Regime:    regime.Classify(vixLevel, m.cfg.Thresholds),
		Sources:   make(map[string]Result, len(ids)),
	}
	var totalAge float64
	for _, id := range ids {
		res := m.Check(id, vixLevel, now)
		sum.Sources[id] = res
		sum.TotalSources++
		if res.IsStale {
			sum.StaleSources++
		}
		switch res.Severity {
		case SeverityWarning:
			sum.WarningCount++
		case SeverityCritical:
			sum.CriticalCount++
		}
		totalAge += res.AgeSeconds
		if res.AgeSeconds > sum.MaxAgeSeconds {
			sum.MaxAgeSeconds = res.AgeSeconds
		}
	}
	if sum.TotalSources > 0 {
		sum.AvgAgeSeconds = totalAge / float64(sum.TotalSources)
	}
	return sum
}

// Sources returns a copy of the registered sources.
func (m *Manager) Sources() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	return out
}

func (m *Manager) maxAgeSeconds(reg regime.Regime) float64 {
	minutes, ok := m.cfg.MaxAgeMinutes[reg]
	if !ok {
		minutes = 30
	}
	return float64(minutes) * 60
}
