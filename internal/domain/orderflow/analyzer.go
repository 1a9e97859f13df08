// Package orderflow extracts a composite directional signal from raw
// market ticks: volume profile position, delta imbalance, footprint
// pressure, and level-2 depth imbalance.
package orderflow

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrMalformedSnapshot is returned when a snapshot is missing required
// fields and no analysis is possible.
var ErrMalformedSnapshot = errors.New("malformed market snapshot")

// Config contains the analyzer thresholds. Composite sub-score weights
// are fixed: 0.25 volume, 0.30 delta, 0.25 footprint, 0.20 level2.
type Config struct {
	// LookbackPeriods bounds the rolling snapshot history.
	LookbackPeriods int `yaml:"lookback_periods" default:"100" validate:"gt=0"`

	// SignalThreshold is the composite magnitude above which a signal
	// turns directional instead of NEUTRAL.
	SignalThreshold float64 `yaml:"signal_threshold" default:"0.10" validate:"gt=0"`

	// Validation gate: all must pass or the signal is discarded.
	MinConfidence  float64 `yaml:"min_confidence" default:"0.05" validate:"gte=0"`
	MinVolume      int64   `yaml:"min_volume" default:"20" validate:"gte=0"`
	MinDelta       float64 `yaml:"min_delta" default:"0.005" validate:"gte=0"`
	MinScoreFloor  float64 `yaml:"min_score_floor" default:"0.05" validate:"gte=0"`

	// Contradiction check: reject when the last ContradictionWindow
	// deltas are unanimously directional and the new delta score points
	// strongly the other way.
	ContradictionWindow int     `yaml:"contradiction_window" default:"5" validate:"gt=0"`
	ContradictionDelta  float64 `yaml:"contradiction_delta" default:"0.30" validate:"gt=0"`

	// HighVolumeThreshold marks price levels reported as high-volume
	// zones in the analyzer stats.
	HighVolumeThreshold int64 `yaml:"high_volume_threshold" default:"200" validate:"gt=0"`
}

// DefaultConfig returns production analyzer thresholds.
func DefaultConfig() Config {
	return Config{
		LookbackPeriods:     100,
		SignalThreshold:     0.10,
		MinConfidence:       0.05,
		MinVolume:           20,
		MinDelta:            0.005,
		MinScoreFloor:       0.05,
		ContradictionWindow: 5,
		ContradictionDelta:  0.30,
		HighVolumeThreshold: 200,
	}
}

// Composite sub-score weights.
const (
	weightVolume    = 0.25
	weightDelta     = 0.30
	weightFootprint = 0.25
	weightLevel2    = 0.20
)

// epsilon guards float comparisons at gate boundaries.
const epsilon = 1e-9

// Analyzer converts market snapshots into validated order-flow
// signals. It owns a bounded rolling history used for the volume
// profile and the contradiction check. Safe for concurrent use.
type Analyzer struct {
	mu            sync.Mutex
	cfg           Config
	history       []MarketSnapshot
	volumeProfile map[float64]int64
	totalVolume   int64
}

// NewAnalyzer creates an analyzer; a zero config gets defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.LookbackPeriods <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{
		cfg:           cfg,
		volumeProfile: make(map[float64]int64),
	}
}

// Analyze extracts a signal from one snapshot. A malformed snapshot
// (missing price) returns an error; a snapshot failing the validation
// gate returns (nil, nil). All other edge cases degrade to neutral
// sub-scores rather than propagating.
func (a *Analyzer) Analyze(snap MarketSnapshot) (*Signal, error) {
	if snap.Price <= 0 {
		return nil, fmt.Errorf("%w: price %.2f", ErrMalformedSnapshot, snap.Price)
	}

	// Empty-volume fallback: a tick that reports neither top-level nor
	// bid/ask volume carries no information and is discarded, not an
	// error.
	if snap.Volume <= 0 {
		if snap.BidVolume+snap.AskVolume <= 0 {
			log.Debug().Str("symbol", snap.Symbol).Msg("snapshot has no volume, discarded")
			return nil, nil
		}
		snap.Volume = snap.BidVolume + snap.AskVolume
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.recordLocked(snap)

	volumeScore := a.volumeScoreLocked(snap)
	deltaScore := deltaScore(snap)
	footprintScore := footprintScore(snap.Footprint)
	level2Score := level2Score(snap.Level2)

	composite := weightVolume*volumeScore +
		weightDelta*deltaScore +
		weightFootprint*footprintScore +
		weightLevel2*level2Score

	confidence := math.Abs(composite)
	sigType := SignalNeutral
	var reasons []string
	switch {
	case composite > a.cfg.SignalThreshold:
		sigType = SignalBuy
		reasons = append(reasons, fmt.Sprintf("order flow bullish (score %.3f)", composite))
	case composite < -a.cfg.SignalThreshold:
		sigType = SignalSell
		reasons = append(reasons, fmt.Sprintf("order flow bearish (score %.3f)", composite))
	}
	if volumeScore > 0.6 {
		reasons = append(reasons, fmt.Sprintf("volume imbalance %.3f", volumeScore))
	}
	if math.Abs(deltaScore) > 0.5 {
		reasons = append(reasons, fmt.Sprintf("delta imbalance %.3f", deltaScore))
	}
	if math.Abs(footprintScore) > 0.5 {
		reasons = append(reasons, fmt.Sprintf("footprint pressure %.3f", footprintScore))
	}
	if math.Abs(level2Score) > 0.5 {
		reasons = append(reasons, fmt.Sprintf("depth imbalance %.3f", level2Score))
	}

	if reject, why := a.validateLocked(snap, confidence, volumeScore, deltaScore); reject {
		log.Debug().Str("symbol", snap.Symbol).Str("reason", why).Msg("signal rejected")
		return nil, nil
	}

	return &Signal{
		Type:            sigType,
		Confidence:      confidence,
		PriceLevel:      snap.Price,
		VolumeImbalance: snap.BidVolume - snap.AskVolume,
		DeltaImbalance:  snap.Delta,
		VolumeScore:     volumeScore,
		DeltaScore:      deltaScore,
		FootprintScore:  footprintScore,
		Level2Score:     level2Score,
		CompositeScore:  composite,
		Timestamp:       snap.Timestamp,
		Reasoning:       strings.Join(reasons, " | "),
	}, nil
}

// recordLocked appends to the rolling history and volume profile,
// evicting the oldest tick past the lookback bound.
func (a *Analyzer) recordLocked(snap MarketSnapshot) {
	a.history = append(a.history, snap)
	level := roundLevel(snap.Price)
	a.volumeProfile[level] += snap.Volume
	a.totalVolume += snap.Volume

	if len(a.history) > a.cfg.LookbackPeriods {
		old := a.history[0]
		a.history = a.history[1:]
		oldLevel := roundLevel(old.Price)
		a.volumeProfile[oldLevel] -= old.Volume
		if a.volumeProfile[oldLevel] <= 0 {
			delete(a.volumeProfile, oldLevel)
		}
		a.totalVolume -= old.Volume
	}
}

func (a *Analyzer) volumeScoreLocked(snap MarketSnapshot) float64 {
	if a.totalVolume <= 0 {
		return 0
	}
	ratio := float64(a.volumeProfile[roundLevel(snap.Price)]) / float64(a.totalVolume)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// validateLocked runs the gate; returns true when the signal must be
// discarded.
func (a *Analyzer) validateLocked(snap MarketSnapshot, confidence, volumeScore, deltaScore float64) (bool, string) {
	if confidence < a.cfg.MinConfidence-epsilon {
		return true, fmt.Sprintf("confidence %.3f below %.3f", confidence, a.cfg.MinConfidence)
	}
	if snap.Volume < a.cfg.MinVolume {
		return true, fmt.Sprintf("volume %d below %d", snap.Volume, a.cfg.MinVolume)
	}
	if math.Abs(snap.Delta) < a.cfg.MinDelta-epsilon {
		return true, fmt.Sprintf("delta %.3f below %.3f", math.Abs(snap.Delta), a.cfg.MinDelta)
	}
	if math.Abs(volumeScore) < a.cfg.MinScoreFloor && math.Abs(deltaScore) < a.cfg.MinScoreFloor {
		return true, "all sub-scores below minimum magnitude"
	}

	// Contradiction check against the short delta history. The current
	// snapshot is already recorded, so skip it.
	n := a.cfg.ContradictionWindow
	if len(a.history)-1 >= n {
		recent := a.history[len(a.history)-1-n : len(a.history)-1]
		allPositive, allNegative := true, true
		for _, h := range recent {
			if h.Delta <= 0 {
				allPositive = false
			}
			if h.Delta >= 0 {
				allNegative = false
			}
		}
		if allPositive && deltaScore < -a.cfg.ContradictionDelta {
			return true, "bearish signal contradicts unanimous bullish delta history"
		}
		if allNegative && deltaScore > a.cfg.ContradictionDelta {
			return true, "bullish signal contradicts unanimous bearish delta history"
		}
	}
	return false, ""
}

// Stats summarizes the rolling window for export consumers.
type Stats struct {
	HistorySize         int               `json:"history_size"`
	TotalVolume         int64             `json:"total_volume"`
	AvgDelta            float64           `json:"avg_delta"`
	VolumeProfileLevels int               `json:"volume_profile_levels"`
	HighVolumeZones     map[float64]int64 `json:"high_volume_zones"`
}

// Stats returns aggregate order-flow statistics over the window.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		HistorySize:         len(a.history),
		TotalVolume:         a.totalVolume,
		VolumeProfileLevels: len(a.volumeProfile),
		HighVolumeZones:     make(map[float64]int64),
	}
	if len(a.history) > 0 {
		var sum float64
		for _, h := range a.history {
			sum += h.Delta
		}
		s.AvgDelta = sum / float64(len(a.history))
	}
	for level, vol := range a.volumeProfile {
		if vol >= a.cfg.HighVolumeThreshold {
			s.HighVolumeZones[level] = vol
		}
	}
	return s
}

// Reset clears the rolling history and volume profile.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.volumeProfile = make(map[float64]int64)
	a.totalVolume = 0
}

func deltaScore(snap MarketSnapshot) float64 {
	total := snap.BidVolume + snap.AskVolume
	if total <= 0 {
		return 0
	}
	return snap.Delta / float64(total)
}

func footprintScore(fp *Footprint) float64 {
	if fp == nil {
		return 0
	}
	total := fp.BuyVolume + fp.SellVolume
	if total <= 0 {
		return 0
	}
	return float64(fp.BuyVolume-fp.SellVolume) / float64(total)
}

func level2Score(book *Level2Book) float64 {
	if book == nil {
		return 0
	}
	var bidTotal, askTotal int64
	for _, lvl := range book.BidDepth {
		bidTotal += lvl.Size
	}
	for _, lvl := range book.AskDepth {
		askTotal += lvl.Size
	}
	if bidTotal+askTotal <= 0 {
		return 0
	}
	return float64(bidTotal-askTotal) / float64(bidTotal+askTotal)
}

func roundLevel(price float64) float64 {
	return math.Round(price*100) / 100
}
