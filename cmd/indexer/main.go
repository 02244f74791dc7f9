// Command indexer runs the asynchronous search-indexing consumer as
// a standalone process against the message-lifecycle subjects.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/config"
	"github.com/fechatter/fechatter-go/internal/observability"
	"github.com/fechatter/fechatter-go/internal/search"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	cfg, err := config.Load(env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	observability.InitLogger("fechatter-indexer", cfg.Features.Observability.LogLevel, env("ENV", "") == "dev")

	if !cfg.Features.Search.Enabled || cfg.Features.Search.URL == "" {
		log.Fatal().Msg("features.search must be enabled with a cluster url to run the indexer")
	}
	if !cfg.Features.Messaging.Enabled || cfg.Features.Messaging.URL == "" {
		log.Fatal().Msg("features.messaging must be enabled with a broker url to run the indexer")
	}

	metrics, registry := observability.NewMetrics()
	go func() {
		addr := env("METRICS_ADDR", ":9091")
		log.Info().Str("addr", addr).Msg("serving indexer metrics")
		if err := http.ListenAndServe(addr, observability.Handler(registry)); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	indexer, err := search.NewIndexer([]string{cfg.Features.Search.URL}, cfg.Features.Search.APIKey,
		cfg.Features.Search.BatchSize, cfg.Features.Search.BatchTimeoutMs, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct search indexer")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deadLetter := cfg.Features.Messaging.Stream + ".dead-letter.v1"
	brokers := []string{cfg.Features.Messaging.URL}
	subjects := []string{bus.SubjectMessageCreated, bus.SubjectMessageEdited, bus.SubjectMessageDeleted}

	for _, subject := range subjects {
		c := bus.NewConsumer(brokers, "indexer.messages", subject, deadLetter)
		go func(c *bus.Consumer) {
			defer c.Close()
			if err := c.Run(ctx, indexer.HandleEvent); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("indexer consumer stopped")
			}
		}(c)
	}

	log.Info().Msg("indexer consumers started")
	<-ctx.Done()
	log.Info().Msg("indexer shutting down")
}
