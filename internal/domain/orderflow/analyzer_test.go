package orderflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(price float64, volume int64, delta float64, bid, ask int64) MarketSnapshot {
	return MarketSnapshot{
		Timestamp: time.Now().UTC(),
		Symbol:    "ES",
		Price:     price,
		Volume:    volume,
		Delta:     delta,
		BidVolume: bid,
		AskVolume: ask,
	}
}

func TestAnalyzer_BuySignal(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	// Strong bid pressure: volume concentrated at this level plus a
	// clearly positive delta.
	sig, err := a.Analyze(tick(4500.25, 2000, 300, 1100, 900))
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, SignalBuy, sig.Type)
	assert.Greater(t, sig.CompositeScore, 0.10)
	assert.Equal(t, sig.Confidence, sig.CompositeScore, "confidence equals composite magnitude for a bullish tick")
	assert.Equal(t, int64(200), sig.VolumeImbalance)
	assert.InDelta(t, 0.15, sig.DeltaScore, 1e-9) // 300 / 2000
	assert.NotEmpty(t, sig.Reasoning)
}

func TestAnalyzer_SellSignal(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	// Spread the profile over several levels so the volume score does
	// not dominate the bearish delta. Alternate delta sign to keep the
	// history mixed.
	for i := 0; i < 10; i++ {
		delta := 10.0
		if i%2 == 0 {
			delta = -10.0
		}
		_, err := a.Analyze(tick(4500+float64(i), 500, delta, 250, 250))
		require.NoError(t, err)
	}

	sig, err := a.Analyze(tick(4520.00, 1000, -600, 300, 700))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalSell, sig.Type)
	assert.Less(t, sig.CompositeScore, -0.10)
}

func TestAnalyzer_MalformedSnapshot(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	_, err := a.Analyze(tick(0, 1000, 50, 500, 500))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedSnapshot)

	_, err = a.Analyze(tick(-10, 1000, 50, 500, 500))
	assert.ErrorIs(t, err, ErrMalformedSnapshot)
}

func TestAnalyzer_EmptyVolumeDiscarded(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	sig, err := a.Analyze(tick(4500, 0, 0, 0, 0))
	require.NoError(t, err, "a no-volume tick is discarded, not an error")
	assert.Nil(t, sig)
}

func TestAnalyzer_VolumeFallbackFromBook(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	// Volume missing but the book carries size; delta score uses the
	// reconstructed total of 80.
	sig, err := a.Analyze(tick(4500, 0, 8, 50, 30))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.InDelta(t, 0.1, sig.DeltaScore, 1e-9)
}

func TestAnalyzer_GateRejections(t *testing.T) {
	tests := []struct {
		name string
		cfg  func() Config
		snap MarketSnapshot
	}{
		{
			name: "volume below minimum",
			cfg:  DefaultConfig,
			snap: tick(4500, 10, 5, 8, 2),
		},
		{
			name: "delta below minimum",
			cfg:  DefaultConfig,
			snap: tick(4500, 1000, 0.001, 500, 500),
		},
		{
			name: "confidence below configured floor",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.MinConfidence = 0.9
				return cfg
			},
			snap: tick(4500, 1000, 50, 525, 475),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(tt.cfg())
			sig, err := a.Analyze(tt.snap)
			require.NoError(t, err)
			assert.Nil(t, sig, "gated ticks yield no signal")
		})
	}
}

func TestAnalyzer_ContradictionRejected(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	// Five unanimously bullish ticks at the same level.
	for i := 0; i < 5; i++ {
		_, err := a.Analyze(tick(4500, 1000, 200, 600, 400))
		require.NoError(t, err)
	}

	// A sharply bearish tick against that run is discarded.
	sig, err := a.Analyze(tick(4500, 1000, -400, 500, 500))
	require.NoError(t, err)
	assert.Nil(t, sig, "bearish signal against unanimous bullish history is rejected")
}

func TestAnalyzer_HistoryEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LookbackPeriods = 3
	a := NewAnalyzer(cfg)

	for i := 0; i < 6; i++ {
		_, err := a.Analyze(tick(4500+float64(i), 1000, 100, 600, 400))
		require.NoError(t, err)
	}

	stats := a.Stats()
	assert.Equal(t, 3, stats.HistorySize)
	assert.Equal(t, int64(3000), stats.TotalVolume, "evicted ticks leave the profile")
}

func TestAnalyzer_FootprintAndDepth(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	snap := tick(4500, 1500, 250, 900, 600)
	snap.Footprint = &Footprint{BuyVolume: 900, SellVolume: 300}
	snap.Level2 = &Level2Book{
		BestBid: 4499.75,
		BestAsk: 4500.25,
		BidDepth: []DepthLevel{
			{Price: 4499.75, Size: 500},
			{Price: 4499.50, Size: 400},
		},
		AskDepth: []DepthLevel{
			{Price: 4500.25, Size: 200},
			{Price: 4500.50, Size: 100},
		},
	}

	sig, err := a.Analyze(snap)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.InDelta(t, 0.5, sig.FootprintScore, 1e-9)  // (900-300)/1200
	assert.InDelta(t, 0.5, sig.Level2Score, 1e-9)     // (900-300)/1200
	assert.Equal(t, SignalBuy, sig.Type)
}

func TestAnalyzer_StatsAndReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighVolumeThreshold = 1500
	a := NewAnalyzer(cfg)

	for i := 0; i < 2; i++ {
		_, err := a.Analyze(tick(4500, 1000, 100, 600, 400))
		require.NoError(t, err)
	}

	stats := a.Stats()
	assert.Equal(t, 2, stats.HistorySize)
	assert.Contains(t, stats.HighVolumeZones, 4500.0)
	assert.InDelta(t, 100, stats.AvgDelta, 1e-9)

	a.Reset()
	stats = a.Stats()
	assert.Zero(t, stats.HistorySize)
	assert.Zero(t, stats.TotalVolume)
}
