package pipeline

import (
	"time"

	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/domain/regime"
	"github.com/jackson97300/mia-core/internal/scoring"
)

// Action is the terminal verdict of one pipeline run.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionReject Action = "REJECT"
)

// State tracks the run through its stage sequence. On any stage error
// the run short-circuits to DECIDED with a REJECT.
type State string

const (
	StateStarted          State = "STARTED"
	StateStalenessChecked State = "STALENESS_CHECKED"
	StateSignalExtracted  State = "SIGNAL_EXTRACTED"
	StateScored           State = "SCORED"
	StateDecided          State = "DECIDED"
	StateLogged           State = "LOGGED"
)

// RunInput carries everything one pipeline run consumes: the market
// tick plus the already-fetched scoring context. Nothing here blocks
// on network I/O.
type RunInput struct {
	Snapshot     orderflow.MarketSnapshot
	VIXLevel     float64
	MenthorQ     scoring.MenthorQInput
	BattleNavale scoring.BattleNavaleInput
	Policy       string
}

// Decision is the terminal artifact of one run, immutable once
// emitted.
type Decision struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	Symbol     string               `json:"symbol"`
	Action     Action               `json:"action"`
	Reasons    []string             `json:"reasons"`
	State      State                `json:"state"`
	Signal     *orderflow.Signal    `json:"signal,omitempty"`
	Score      *scoring.ScoreResult `json:"score,omitempty"`
	VIXLevel   float64              `json:"vix_level"`
	VIXRegime  regime.Regime        `json:"vix_regime"`
	LatencyMs  float64              `json:"latency_ms"`
}

// Counters aggregates run outcomes for the status endpoint.
type Counters struct {
	Processed          int64 `json:"processed"`
	Accepted           int64 `json:"accepted"`
	Rejected           int64 `json:"rejected"`
	BlockedByStaleness int64 `json:"blocked_by_staleness"`
	Errors             int64 `json:"errors"`
}
