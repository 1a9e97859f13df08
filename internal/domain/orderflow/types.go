package orderflow

import "time"

// SignalType is the direction of a generated order-flow signal.
type SignalType string

const (
	SignalBuy     SignalType = "BUY"
	SignalSell    SignalType = "SELL"
	SignalNeutral SignalType = "NEUTRAL"
)

// DepthLevel is one resting price level of the book.
type DepthLevel struct {
	Price float64 `json:"price"`
	Size  int64   `json:"size"`
}

// Level2Book carries aggregated resting depth per price level.
type Level2Book struct {
	BestBid  float64      `json:"best_bid"`
	BestAsk  float64      `json:"best_ask"`
	BidDepth []DepthLevel `json:"bid_depth"`
	AskDepth []DepthLevel `json:"ask_depth"`
}

// Footprint carries the per-tick buy/sell executed volume breakdown.
type Footprint struct {
	BuyVolume  int64 `json:"buy_volume"`
	SellVolume int64 `json:"sell_volume"`
}

// MarketSnapshot is one normalized market tick as produced by the
// external feed. It is immutable once ingested.
type MarketSnapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol"`
	Price     float64     `json:"price"`
	Volume    int64       `json:"volume"`
	Delta     float64     `json:"delta"` // buy volume minus sell volume
	BidVolume int64       `json:"bid_volume"`
	AskVolume int64       `json:"ask_volume"`
	Level2    *Level2Book `json:"level2,omitempty"`
	Footprint *Footprint  `json:"footprint,omitempty"`
}

// Signal is the composite order-flow signal derived from one snapshot.
// Confidence always equals the magnitude of the weighted composite.
type Signal struct {
	Type            SignalType `json:"signal_type"`
	Confidence      float64    `json:"confidence"`
	PriceLevel      float64    `json:"price_level"`
	VolumeImbalance int64      `json:"volume_imbalance"`
	DeltaImbalance  float64    `json:"delta_imbalance"`
	VolumeScore     float64    `json:"volume_score"`
	DeltaScore      float64    `json:"delta_score"`
	FootprintScore  float64    `json:"footprint_score"`
	Level2Score     float64    `json:"level2_score"`
	CompositeScore  float64    `json:"composite_score"`
	Timestamp       time.Time  `json:"timestamp"`
	Reasoning       string     `json:"reasoning"`
}
