// Command migrate applies the embedded SQL migrations to the configured
// database. Run with no arguments to migrate up, or "down" to roll back
// one step.
package main

import (
	"errors"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/fechatter/fechatter-go/internal/config"
	"github.com/fechatter/fechatter-go/internal/observability"
	"github.com/fechatter/fechatter-go/migrations"
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
	observability.InitLogger("fechatter-migrate", cfg.Features.Observability.LogLevel, env("ENV", "") == "dev")

	if cfg.Server.DBURL == "" {
		log.Fatal().Msg("server.db_url is required")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Server.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct migrator")
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		log.Fatal().Str("direction", direction).Msg("unknown migrate direction, want up or down")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("migration failed")
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Fatal().Err(verr).Msg("failed to read schema version")
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
