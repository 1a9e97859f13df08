package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Snapshot(t *testing.T) {
	raw := []byte(`{
		"type": "snapshot",
		"timestamp": "2026-03-02T14:30:00Z",
		"data": {
			"symbol": "ES",
			"price": 4500.25,
			"volume": 2000,
			"delta": 300,
			"bid_volume": 1100,
			"ask_volume": 900,
			"level2": {
				"best_bid": 4500.0,
				"best_ask": 4500.5,
				"bid_depth": [{"price": 4500.0, "size": 500}],
				"ask_depth": [{"price": 4500.5, "size": 300}]
			}
		}
	}`)

	msg, err := decode(raw)
	require.NoError(t, err)

	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.Equal(t, "market_feed", msg.SourceID)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, "ES", msg.Snapshot.Symbol)
	assert.Equal(t, 4500.25, msg.Snapshot.Price)
	assert.Equal(t, int64(2000), msg.Snapshot.Volume)
	require.NotNil(t, msg.Snapshot.Level2)
	assert.Equal(t, int64(500), msg.Snapshot.Level2.BidDepth[0].Size)

	// Envelope timestamp backfills a missing snapshot timestamp.
	want := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	assert.True(t, msg.Snapshot.Timestamp.Equal(want))
}

func TestDecode_SnapshotKeepsOwnTimestamp(t *testing.T) {
	raw := []byte(`{
		"type": "snapshot",
		"timestamp": "2026-03-02T14:30:00Z",
		"data": {"symbol": "ES", "price": 4500, "timestamp": "2026-03-02T14:29:58Z"}
	}`)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 58, msg.Snapshot.Timestamp.Second())
}

func TestDecode_VIX(t *testing.T) {
	raw := []byte(`{"type": "vix", "timestamp": "2026-03-02T14:30:00Z", "data": {"level": 22.5}}`)

	msg, err := decode(raw)
	require.NoError(t, err)

	assert.Equal(t, KindVIX, msg.Kind)
	assert.Equal(t, "vix_feed", msg.SourceID)
	require.NotNil(t, msg.VIX)
	assert.Equal(t, 22.5, msg.VIX.Level)
}

func TestDecode_Levels(t *testing.T) {
	raw := []byte(`{
		"type": "levels",
		"timestamp": "2026-03-02T14:30:00Z",
		"data": {
			"menthorq": {
				"gamma_levels": {"call_resistance": 4510.0, "put_support": 4480.0},
				"blind_spots": {"bl_1": 4505.0},
				"swing_levels": {"sg_1": 4495.0},
				"dealers_bias_score": 0.35
			},
			"battle_navale": {
				"vpoc": 4498.0,
				"vah": 4512.0,
				"val": 4488.0,
				"vwap": 4499.5,
				"delta_ratio": 0.65
			}
		}
	}`)

	msg, err := decode(raw)
	require.NoError(t, err)

	assert.Equal(t, KindLevels, msg.Kind)
	assert.Equal(t, "levels_feed", msg.SourceID)
	require.NotNil(t, msg.Levels)
	require.NotNil(t, msg.Levels.MenthorQ)
	assert.Equal(t, 4510.0, msg.Levels.MenthorQ.GammaLevels["call_resistance"])
	require.NotNil(t, msg.Levels.MenthorQ.DealersBias)
	assert.Equal(t, 0.35, *msg.Levels.MenthorQ.DealersBias)
	require.NotNil(t, msg.Levels.BattleNavale)
	assert.Equal(t, 4498.0, msg.Levels.BattleNavale.VPOC)
	require.NotNil(t, msg.Levels.BattleNavale.DeltaRatio)
	assert.Equal(t, 0.65, *msg.Levels.BattleNavale.DeltaRatio)
}

func TestDecode_LevelsOneSided(t *testing.T) {
	raw := []byte(`{"type": "levels", "data": {"battle_navale": {"vpoc": 4498.0}}}`)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Nil(t, msg.Levels.MenthorQ)
	require.NotNil(t, msg.Levels.BattleNavale)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"unknown type", `{"type": "orders", "data": {}}`},
		{"bad snapshot payload", `{"type": "snapshot", "data": [1, 2]}`},
		{"bad vix payload", `{"type": "vix", "data": "high"}`},
		{"bad levels payload", `{"type": "levels", "data": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Type:      KindVIX,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"level": 18}`),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 18.0, msg.VIX.Level)
}
