package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/domain/regime"
	"github.com/jackson97300/mia-core/internal/domain/staleness"
	"github.com/jackson97300/mia-core/internal/domain/vix"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

func ptr(v float64) *float64 { return &v }

func newTestOrchestrator(cfg Config) *Orchestrator {
	dispatcher := alerts.NewDispatcher(alerts.DefaultDispatcherConfig())
	return New(cfg,
		orderflow.NewAnalyzer(orderflow.DefaultConfig()),
		staleness.NewManager(staleness.DefaultConfig()),
		vix.NewTracker(vix.DefaultConfig(), dispatcher),
		scoring.NewCalculator(scoring.DefaultWeights()),
		latency.NewTracker(latency.DefaultConfig(), dispatcher),
		dispatcher,
		nil,
	)
}

func buySnapshot() orderflow.MarketSnapshot {
	return orderflow.MarketSnapshot{
		Timestamp: time.Now().UTC(),
		Symbol:    "ES",
		Price:     4500.25,
		Volume:    2000,
		Delta:     300,
		BidVolume: 1100,
		AskVolume: 900,
	}
}

func goodScoringInputs() (scoring.MenthorQInput, scoring.BattleNavaleInput) {
	mq := scoring.MenthorQInput{
		CurrentPrice: 4500.0,
		GammaLevels:  map[string]float64{"call_resistance": 4500.5},
		BlindSpots:   map[string]float64{"bl_1": 4510.0},
		SwingLevels:  map[string]float64{"sg_1": 4501.0},
		DealersBias:  ptr(0.7),
	}
	bn := scoring.BattleNavaleInput{
		CurrentPrice:    4500.0,
		VPOC:            4492.0,
		VAH:             4495.0,
		VAL:             4485.0,
		VWAP:            4490.0,
		DeltaRatio:      ptr(0.7),
		ConfluenceScore: ptr(0.6),
	}
	return mq, bn
}

func TestOrchestrator_AcceptUnderNormalRegime(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())
	mq, bn := goodScoringInputs()

	d, err := o.Process(context.Background(), RunInput{
		Snapshot:     buySnapshot(),
		VIXLevel:     18.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, ActionAccept, d.Action)
	assert.Equal(t, StateLogged, d.State)
	assert.Equal(t, regime.Normal, d.VIXRegime)
	require.NotNil(t, d.Signal)
	assert.Equal(t, orderflow.SignalBuy, d.Signal.Type)
	require.NotNil(t, d.Score)
	assert.GreaterOrEqual(t, d.Score.FinalScore, 0.6)
	assert.NotEmpty(t, d.Reasons)
	assert.NotEmpty(t, d.ID)

	counters := o.Counters()
	assert.Equal(t, int64(1), counters.Processed)
	assert.Equal(t, int64(1), counters.Accepted)
}

func TestOrchestrator_RejectInExtremeRegime(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())
	mq, bn := goodScoringInputs()

	d, err := o.Process(context.Background(), RunInput{
		Snapshot:     buySnapshot(),
		VIXLevel:     55.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)

	assert.Equal(t, ActionReject, d.Action)
	assert.Equal(t, regime.Extreme, d.VIXRegime)
	assert.Contains(t, joined(d.Reasons), "EXTREME")
}

func TestOrchestrator_RejectOnCriticalStaleness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredSources = []string{"menthorq"}
	o := newTestOrchestrator(cfg)

	o.staleness.Register("menthorq", "ES", "levels", 60)
	o.staleness.Touch("menthorq", time.Now().UTC().Add(-40*time.Minute))

	mq, bn := goodScoringInputs()
	d, err := o.Process(context.Background(), RunInput{
		Snapshot:     buySnapshot(),
		VIXLevel:     18.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)

	assert.Equal(t, ActionReject, d.Action)
	assert.Contains(t, joined(d.Reasons), "stale")

	counters := o.Counters()
	assert.Equal(t, int64(1), counters.BlockedByStaleness)
}

func TestOrchestrator_RejectOnUnregisteredRequiredSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredSources = []string{"never_registered"}
	o := newTestOrchestrator(cfg)

	mq, bn := goodScoringInputs()
	d, err := o.Process(context.Background(), RunInput{
		Snapshot:     buySnapshot(),
		VIXLevel:     18.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionReject, d.Action)
}

func TestOrchestrator_RejectOnLowScore(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())

	// Empty scoring inputs degrade every component toward neutral, so
	// the final score lands near 0.5, under the 0.6 policy floor.
	d, err := o.Process(context.Background(), RunInput{
		Snapshot: buySnapshot(),
		VIXLevel: 18.0,
	})
	require.NoError(t, err)

	assert.Equal(t, ActionReject, d.Action)
	assert.Contains(t, joined(d.Reasons), "below")
}

func TestOrchestrator_RejectOnNoSignal(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())
	mq, bn := goodScoringInputs()

	// No volume and an empty book: the analyzer discards the tick.
	snap := buySnapshot()
	snap.Volume = 0
	snap.Delta = 0
	snap.BidVolume = 0
	snap.AskVolume = 0

	d, err := o.Process(context.Background(), RunInput{
		Snapshot:     snap,
		VIXLevel:     18.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)

	assert.Equal(t, ActionReject, d.Action)
	assert.Nil(t, d.Signal)
	assert.Contains(t, joined(d.Reasons), "signal")
}

func TestOrchestrator_MalformedSnapshotError(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())

	snap := buySnapshot()
	snap.Price = 0

	d, err := o.Process(context.Background(), RunInput{Snapshot: snap, VIXLevel: 18.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, orderflow.ErrMalformedSnapshot)
	require.NotNil(t, d, "even a failed run yields a rejection decision")
	assert.Equal(t, ActionReject, d.Action)

	assert.Equal(t, int64(1), o.Counters().Errors)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())
	mq, bn := goodScoringInputs()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := o.Process(ctx, RunInput{
		Snapshot:     buySnapshot(),
		VIXLevel:     18.0,
		MenthorQ:     mq,
		BattleNavale: bn,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionReject, d.Action)
	assert.Contains(t, joined(d.Reasons), "cancelled")
}

func TestOrchestrator_LatestAndCounters(t *testing.T) {
	o := newTestOrchestrator(DefaultConfig())
	mq, bn := goodScoringInputs()

	assert.Nil(t, o.Latest())

	accept, err := o.Process(context.Background(), RunInput{
		Snapshot: buySnapshot(), VIXLevel: 18.0, MenthorQ: mq, BattleNavale: bn,
	})
	require.NoError(t, err)
	_, err = o.Process(context.Background(), RunInput{
		Snapshot: buySnapshot(), VIXLevel: 55.0, MenthorQ: mq, BattleNavale: bn,
	})
	require.NoError(t, err)

	latest := o.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, ActionReject, latest.Action, "latest reflects the second run")
	assert.NotEqual(t, accept.ID, latest.ID)

	counters := o.Counters()
	assert.Equal(t, int64(2), counters.Processed)
	assert.Equal(t, int64(1), counters.Accepted)
	assert.Equal(t, int64(1), counters.Rejected)
}

func joined(reasons []string) string {
	out := ""
	for _, r := range reasons {
		out += r + " | "
	}
	return out
}
