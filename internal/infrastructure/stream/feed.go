// Package stream connects to the upstream market data websocket and
// turns its envelopes into pipeline inputs. The feed owns reconnect
// and backoff; consumers only see a channel of decoded messages.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/config"
	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/scoring"
)

// Envelope is the wire frame. Type selects the payload shape.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// VIXUpdate is the payload for type "vix".
type VIXUpdate struct {
	Level float64 `json:"level"`
}

// LevelsUpdate is the payload for type "levels": the MenthorQ and
// Battle Navale context the scoring components consume. Either side
// may be absent when only one feed refreshed.
type LevelsUpdate struct {
	MenthorQ     *scoring.MenthorQInput     `json:"menthorq,omitempty"`
	BattleNavale *scoring.BattleNavaleInput `json:"battle_navale,omitempty"`
}

// Message is one decoded feed event. Exactly one payload pointer is
// set, matching Kind.
type Message struct {
	Kind     string
	Snapshot *orderflow.MarketSnapshot
	VIX      *VIXUpdate
	Levels   *LevelsUpdate
	SourceID string
}

const (
	KindSnapshot = "snapshot"
	KindVIX      = "vix"
	KindLevels   = "levels"
)

// Feed maintains the websocket session.
type Feed struct {
	cfg config.FeedConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	out chan Message
}

// NewFeed builds a disconnected feed. Run starts it.
func NewFeed(cfg config.FeedConfig) *Feed {
	return &Feed{
		cfg: cfg,
		out: make(chan Message, 256),
	}
}

// Messages is the decoded event stream. Closed when Run returns.
func (f *Feed) Messages() <-chan Message {
	return f.out
}

// Run connects and reads until the context is cancelled, reconnecting
// with capped exponential backoff on any transport error.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	backoff := time.Duration(f.cfg.ReconnectSecs) * time.Second
	maxBackoff := time.Duration(f.cfg.MaxBackoffSecs) * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.connect(ctx); err != nil {
			log.Warn().Err(err).Str("url", f.cfg.URL).
				Dur("retry_in", backoff).Msg("feed connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Duration(f.cfg.ReconnectSecs) * time.Second
		if err := f.readLoop(ctx); err != nil {
			log.Warn().Err(err).Msg("feed read loop ended, reconnecting")
		}
		f.closeConn()
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	log.Info().Str("url", f.cfg.URL).Msg("feed connected")
	return nil
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("read loop without connection")
	}

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		msg, err := decode(raw)
		if err != nil {
			log.Warn().Err(err).Msg("feed frame dropped")
			continue
		}

		select {
		case f.out <- msg:
		default:
			log.Warn().Str("kind", msg.Kind).Msg("feed buffer full, frame dropped")
		}
	}
}

func (f *Feed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
}

// Connected reports the session state.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindSnapshot:
		var snap orderflow.MarketSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return Message{}, fmt.Errorf("decode snapshot: %w", err)
		}
		if snap.Timestamp.IsZero() {
			snap.Timestamp = env.Timestamp
		}
		return Message{Kind: KindSnapshot, Snapshot: &snap, SourceID: "market_feed"}, nil
	case KindVIX:
		var upd VIXUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			return Message{}, fmt.Errorf("decode vix update: %w", err)
		}
		return Message{Kind: KindVIX, VIX: &upd, SourceID: "vix_feed"}, nil
	case KindLevels:
		var upd LevelsUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			return Message{}, fmt.Errorf("decode levels update: %w", err)
		}
		return Message{Kind: KindLevels, Levels: &upd, SourceID: "levels_feed"}, nil
	default:
		return Message{}, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}
