package vix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/domain/regime"
)

// fakeClock advances manually so debounce windows are deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(dispatcher *alerts.Dispatcher) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
	tr := NewTracker(DefaultConfig(), dispatcher)
	tr.now = clock.Now
	return tr, clock
}

func TestTracker_RegimeCommitsImmediately(t *testing.T) {
	tr, clock := newTestTracker(nil)

	snap := tr.Update(18.0, nil)
	assert.Equal(t, regime.Normal, snap.Regime)
	assert.Equal(t, regime.Normal, tr.CurrentRegime())

	clock.Advance(10 * time.Second)
	snap = tr.Update(30.0, nil)
	assert.Equal(t, regime.HighVol, snap.Regime)
	assert.Equal(t, regime.HighVol, tr.CurrentRegime(), "regime commits even inside the debounce window")
}

func TestTracker_RapidFlipRecordsNoTransition(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Update(18.0, nil)
	clock.Advance(30 * time.Second)
	tr.Update(30.0, nil)
	clock.Advance(30 * time.Second)
	tr.Update(18.0, nil)

	assert.Empty(t, tr.Transitions(), "flips inside the minimum duration are debounced")
}

func TestTracker_TransitionAfterMinimumDuration(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Update(18.0, nil)
	clock.Advance(10 * time.Minute)
	tr.Update(30.0, nil)

	transitions := tr.Transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, regime.Normal, transitions[0].FromRegime)
	assert.Equal(t, regime.HighVol, transitions[0].ToRegime)
	assert.Equal(t, 10*time.Minute, transitions[0].DurationInPrevious)
	assert.Greater(t, transitions[0].ImpactScore, 0.0)
	assert.NotEmpty(t, transitions[0].Implications)
}

func TestTracker_TransitionClassification(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func() Config
		from, to float64
		want     TransitionType
	}{
		{"spike", DefaultConfig, 20.0, 30.0, TransitionSpike},               // +50%
		{"crash", DefaultConfig, 40.0, 24.0, TransitionCrash},               // -40%
		{"plain change", DefaultConfig, 24.0, 27.0, TransitionRegimeChange}, // +12.5%
		{
			// A cross into extreme territory without a percentage spike
			// classifies on level alone.
			name: "explosion",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.SpikePercent = 80.0
				return cfg
			},
			from: 34.0, to: 52.0,
			want: TransitionVolExplosion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFn := tt.cfg
			if cfgFn == nil {
				cfgFn = DefaultConfig
			}
			clock := &fakeClock{t: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
			tr := NewTracker(cfgFn(), nil)
			tr.now = clock.Now

			tr.Update(tt.from, nil)
			clock.Advance(10 * time.Minute)
			tr.Update(tt.to, nil)

			transitions := tr.Transitions()
			require.Len(t, transitions, 1)
			assert.Equal(t, tt.want, transitions[0].Type)
		})
	}
}

func TestTracker_TrendClassification(t *testing.T) {
	tr, clock := newTestTracker(nil)

	snap := tr.Update(20.0, nil)
	assert.Equal(t, TrendStable, snap.Trend, "first reading has no trend")

	clock.Advance(time.Minute)
	snap = tr.Update(22.0, nil) // +10%
	assert.Equal(t, TrendIncreasing, snap.Trend)

	clock.Advance(time.Minute)
	snap = tr.Update(20.5, nil) // -6.8%
	assert.Equal(t, TrendDecreasing, snap.Trend)

	clock.Advance(time.Minute)
	snap = tr.Update(20.6, nil) // +0.5%
	assert.Equal(t, TrendStable, snap.Trend)
}

func TestTracker_ThresholdAlertsIgnoreDebounce(t *testing.T) {
	dispatcher := alerts.NewDispatcher(alerts.DefaultDispatcherConfig())
	tr, clock := newTestTracker(dispatcher)

	tr.Update(40.0, nil)
	clock.Advance(10 * time.Second)
	// +37.5% inside the debounce window: no transition, but both the
	// spike and the extreme-level alerts fire.
	tr.Update(55.0, nil)

	assert.Empty(t, tr.Transitions())

	recent := dispatcher.Recent(10)
	types := make(map[string]bool)
	for _, a := range recent {
		types[a.Type] = true
	}
	assert.True(t, types["vix_spike"], "spike alert expected")
	assert.True(t, types["extreme_vix"], "extreme level alert expected")
}

type sleepySink struct {
	delay time.Duration
}

func (s *sleepySink) Name() string { return "sleepy" }

func (s *sleepySink) Deliver(alerts.Alert) error {
	time.Sleep(s.delay)
	return nil
}

func TestTracker_SlowSinkDoesNotBlockUpdates(t *testing.T) {
	dispatcher := alerts.NewDispatcher(alerts.DefaultDispatcherConfig())
	defer dispatcher.Close()
	dispatcher.AddSink(&sleepySink{delay: 500 * time.Millisecond})
	tr, clock := newTestTracker(dispatcher)

	tr.Update(18.0, nil)
	clock.Advance(time.Minute)

	// 60.0 fires the spike and extreme alerts; their delivery must not
	// stall the update or readers waiting on the tracker lock.
	start := time.Now()
	tr.Update(60.0, nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"update must not wait on sink delivery")

	start = time.Now()
	tr.Level()
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"readers must not queue behind sink I/O")
}

func TestTracker_CalmAlert(t *testing.T) {
	dispatcher := alerts.NewDispatcher(alerts.DefaultDispatcherConfig())
	tr, _ := newTestTracker(dispatcher)

	tr.Update(10.0, nil)

	recent := dispatcher.Recent(10)
	require.NotEmpty(t, recent)
	assert.Equal(t, "calm_period", recent[0].Type)
	assert.Equal(t, alerts.SeverityLow, recent[0].Severity)
}

func TestTracker_RecordDecisionStats(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Update(18.0, nil)
	tr.RecordDecision("ACCEPT", "success", 0.8, nil)
	clock.Advance(time.Minute)
	tr.RecordDecision("ACCEPT", "success", 0.6, nil)
	tr.RecordDecision("REJECT", "failure", 0.2, nil)

	stats := tr.Stats()[regime.Normal]
	assert.Equal(t, 3, stats.TotalDecisions)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, (0.8+0.6+0.2)/3, stats.AvgDecisionImpact, 1e-9)
}

func TestTracker_DefaultsBeforeFirstUpdate(t *testing.T) {
	tr := NewTracker(Config{}, nil)
	assert.Equal(t, regime.Normal, tr.CurrentRegime())
	assert.Zero(t, tr.Level())

	rec := tr.RecordDecision("REJECT", "neutral", 0, nil)
	assert.Equal(t, regime.Normal, rec.Regime)
}

func TestTracker_SummaryCounts(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Update(18.0, nil)
	clock.Advance(10 * time.Minute)
	tr.Update(30.0, nil)
	tr.RecordDecision("ACCEPT", "success", 0.5, nil)

	sum := tr.Summary()
	assert.Equal(t, regime.HighVol, sum.Regime)
	assert.Equal(t, 2, sum.SnapshotCount)
	assert.Equal(t, 1, sum.TransitionCount)
	assert.Equal(t, 1, sum.DecisionCount)
	assert.Equal(t, 30.0, sum.Level)
}
