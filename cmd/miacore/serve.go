package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/config"
	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/domain/staleness"
	"github.com/jackson97300/mia-core/internal/domain/vix"
	"github.com/jackson97300/mia-core/internal/infrastructure/persistence"
	"github.com/jackson97300/mia-core/internal/infrastructure/pub"
	"github.com/jackson97300/mia-core/internal/infrastructure/stream"
	httpiface "github.com/jackson97300/mia-core/internal/interfaces/http"
	"github.com/jackson97300/mia-core/internal/metrics"
	"github.com/jackson97300/mia-core/internal/pipeline"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the decision pipeline and its HTTP API",
		Long: `Connects to the market feed, processes every snapshot through the
decision pipeline and serves the read-only operational API.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Alert fan-out, optionally with the webhook sink.
	dispatcher := alerts.NewDispatcher(cfg.Alerts)
	defer dispatcher.Close()
	if cfg.Webhook.URL != "" {
		dispatcher.AddSink(alerts.NewWebhookSink(cfg.Webhook))
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	dispatcher.SetObserver(func(a alerts.Alert) {
		m.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	})

	analyzer := orderflow.NewAnalyzer(cfg.OrderFlow)
	staleMgr := staleness.NewManager(cfg.Staleness)
	vixTracker := vix.NewTracker(cfg.VIX, dispatcher)
	scorer := scoring.NewCalculator(cfg.Scoring)
	latTracker := latency.NewTracker(cfg.Latency, dispatcher)

	orch := pipeline.New(cfg.Pipeline, analyzer, staleMgr, vixTracker, scorer,
		latTracker, dispatcher, m)

	for _, id := range cfg.Pipeline.RequiredSources {
		staleMgr.Register(id, cfg.Symbol, "feed", 60)
	}

	// Downstream sinks are all optional.
	var redisStore *pub.RedisStore
	if cfg.Redis.Addr != "" {
		redisStore = pub.NewRedisStore(cfg.Redis)
		dispatcher.AddSink(redisStore.AlertSink())
	}
	var kafkaPub *pub.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub = pub.NewKafkaPublisher(cfg.Kafka)
		defer kafkaPub.Close()
	}
	var store *persistence.Store
	if cfg.Postgres.DSN != "" {
		store, err = persistence.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open decision store: %w", err)
		}
		defer store.Close()
	}

	server := httpiface.NewServer(cfg.Server, httpiface.Deps{
		Orchestrator: orch,
		Staleness:    staleMgr,
		VIX:          vixTracker,
		Scorer:       scorer,
		Latency:      latTracker,
		Dispatcher:   dispatcher,
		Registry:     registry,
	})

	errCh := make(chan error, 2)

	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go orch.Monitor(ctx)

	if cfg.Feed.URL != "" {
		feed := stream.NewFeed(cfg.Feed)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("market feed: %w", err)
			}
		}()
		go consumeFeed(ctx, feed, orch, staleMgr, vixTracker, redisStore, kafkaPub, store)
	} else {
		log.Warn().Msg("no feed url configured, pipeline idle")
	}

	log.Info().Str("symbol", cfg.Symbol).Str("addr", cfg.Server.Addr).Msg("mia-core running")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// consumeFeed drives the pipeline from decoded feed messages. VIX and
// levels updates only refresh cached state; snapshots trigger a full
// run carrying the latest levels context.
func consumeFeed(ctx context.Context, feed *stream.Feed, orch *pipeline.Orchestrator,
	staleMgr *staleness.Manager, vixTracker *vix.Tracker,
	redisStore *pub.RedisStore, kafkaPub *pub.KafkaPublisher, store *persistence.Store) {

	var menthorq scoring.MenthorQInput
	var battleNavale scoring.BattleNavaleInput

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-feed.Messages():
			if !ok {
				return
			}
			staleMgr.Touch(msg.SourceID, time.Now().UTC())

			switch msg.Kind {
			case stream.KindVIX:
				vixTracker.Update(msg.VIX.Level, map[string]any{"source": msg.SourceID})
			case stream.KindLevels:
				if msg.Levels.MenthorQ != nil {
					menthorq = *msg.Levels.MenthorQ
				}
				if msg.Levels.BattleNavale != nil {
					battleNavale = *msg.Levels.BattleNavale
				}
			case stream.KindSnapshot:
				// Levels arrive on their own cadence; score against the
				// tick's price, not the one they were published at.
				menthorq.CurrentPrice = msg.Snapshot.Price
				battleNavale.CurrentPrice = msg.Snapshot.Price

				decision, err := orch.Process(ctx, pipeline.RunInput{
					Snapshot:     *msg.Snapshot,
					VIXLevel:     vixTracker.Level(),
					MenthorQ:     menthorq,
					BattleNavale: battleNavale,
				})
				if err != nil {
					log.Error().Err(err).Str("symbol", msg.Snapshot.Symbol).Msg("pipeline run failed")
					continue
				}
				publishDecision(ctx, decision, redisStore, kafkaPub, store)
			}
		}
	}
}

func publishDecision(ctx context.Context, d *pipeline.Decision,
	redisStore *pub.RedisStore, kafkaPub *pub.KafkaPublisher, store *persistence.Store) {

	if redisStore != nil {
		if err := redisStore.Publish(ctx, d); err != nil {
			log.Warn().Err(err).Str("id", d.ID).Msg("redis publish failed")
		}
	}
	if kafkaPub != nil {
		if err := kafkaPub.Publish(ctx, d); err != nil {
			log.Warn().Err(err).Str("id", d.ID).Msg("kafka publish failed")
		}
	}
	if store != nil {
		if err := store.Save(ctx, d); err != nil {
			log.Warn().Err(err).Str("id", d.ID).Msg("persist decision failed")
		}
	}
}
