// Command outboxpump runs the outbox drain loop that durably publishes
// message events, as a standalone process, so it can be scaled and
// restarted independently of the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/config"
	"github.com/fechatter/fechatter-go/internal/db"
	"github.com/fechatter/fechatter-go/internal/observability"
	"github.com/fechatter/fechatter-go/internal/store"
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
	observability.InitLogger("fechatter-outboxpump", cfg.Features.Observability.LogLevel, env("ENV", "") == "dev")

	if !cfg.Features.Messaging.Enabled || cfg.Features.Messaging.URL == "" {
		log.Fatal().Msg("features.messaging must be enabled with a broker url to run the outbox pump")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Open(ctx, cfg.Server.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	outbox := store.NewOutboxRepo(pool)
	publisher := bus.NewPublisher([]string{cfg.Features.Messaging.URL})
	defer publisher.Close()

	pump := bus.NewOutboxPump(outbox, publisher, 2*time.Second, cfg.Features.Messaging.OutboxLimit)
	log.Info().Msg("outbox pump starting")
	pump.Run(ctx)
	log.Info().Msg("outbox pump stopped")
}
