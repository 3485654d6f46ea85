// Command aggregator runs the event-processing core: the broker consumer
// loop, the in-memory aggregation cache, the periodic flusher, and the
// observability HTTP surface, wired together and torn down per the
// no-loss shutdown protocol.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flowmetrics/activity-aggregator/internal/aggregator"
	"github.com/flowmetrics/activity-aggregator/internal/broker"
	"github.com/flowmetrics/activity-aggregator/internal/cache"
	"github.com/flowmetrics/activity-aggregator/internal/config"
	"github.com/flowmetrics/activity-aggregator/internal/deadletter"
	"github.com/flowmetrics/activity-aggregator/internal/fanout"
	"github.com/flowmetrics/activity-aggregator/internal/pkg/logger"
	"github.com/flowmetrics/activity-aggregator/internal/ratelimit"
	"github.com/flowmetrics/activity-aggregator/internal/security"
	"github.com/flowmetrics/activity-aggregator/internal/store/postgres"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/handlers"
	appmw "github.com/flowmetrics/activity-aggregator/internal/transport/http/middleware"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/router"
)

const shutdownGrace = 15 * time.Second

func main() {
	logger.Init()
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pgStore, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Config{
		MaxRetries:     cfg.DBMaxRetryCount,
		RetryBase:      cfg.DBRetryDelay,
		CommandTimeout: cfg.DBCommandTimeout,
	})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pgStore.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DBCommandTimeout)
	if err := pgStore.Initialize(initCtx); err != nil {
		initCancel()
		log.Fatal().Err(err).Msg("postgres initialize failed")
	}
	initCancel()

	var dlq deadletter.Sink = deadletter.Noop{}
	if cfg.DeadletterEnabled {
		sink, err := deadletter.Connect(cfg.DeadletterAMQPURL, cfg.DeadletterExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("dead-letter sink connect failed")
		}
		dlq = sink
		defer sink.Close()
	}

	aggCache := cache.New(0)
	agg := aggregator.New(aggCache, pgStore, cfg.FlushInterval, log)

	bus := fanout.New(log)
	sub := bus.Subscribe(agg)
	defer sub.Release()

	commitMode := broker.CommitImmediate
	if cfg.OffsetCommitMode == config.OffsetCommitDeferred {
		commitMode = broker.CommitDeferred
	}
	consumer, err := broker.New(broker.Config{
		Brokers:         cfg.KafkaBrokers,
		Topic:           cfg.KafkaTopic,
		GroupID:         cfg.KafkaGroupID,
		StartOffset:     startOffsetFor(cfg.KafkaAutoOffsetReset),
		SessionTimeout:  cfg.KafkaSessionTimeout,
		MaxPollInterval: cfg.KafkaMaxPollInterval,
		CommitMode:      commitMode,
	}, bus, dlq, agg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker consumer construction failed")
	}

	limiter := ratelimit.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 20, time.Minute)
	defer limiter.Close()

	verifier := security.NewHS256Verifier(cfg.AuthJWTSecret)
	httpHandler := router.New(
		handlers.NewHealth(pgStore),
		handlers.NewStats(aggCache, pgStore),
		appmw.NewAuth(verifier),
		limiter,
	)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpHandler,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg.Run(runCtx)
	consumer.Start(runCtx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("observability http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server crashed")
		}
	}()

	<-runCtx.Done()
	log.Info().Msg("shutdown signal received; draining")

	// Shutdown protocol: stop the consumer first, then complete the fan-out
	// (which releases the aggregator's subscription); its OnCompleted
	// delivery runs the aggregator's final synchronous flush against a fresh
	// context before stopping the ticker. Then stop the HTTP server.
	// Consumer.Stop and Aggregator.Flush/Stop never use runCtx, which is
	// already cancelled.
	consumer.Stop()
	bus.Complete()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
	shutdownCancel()

	log.Info().Msg("shutdown complete")
}

func startOffsetFor(reset string) int64 {
	if reset == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

