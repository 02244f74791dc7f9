// Package observability wires up the ambient logging and metrics stack:
// zerolog for structured logs and a small Prometheus registry for the
// HTTP and pipeline counters emitted across the service.
package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. devMode pretty-prints to
// stderr for local development via zerolog.ConsoleWriter; production mode
// stays newline-delimited JSON on stdout.
func InitLogger(service, level string, devMode bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if devMode {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	log.Logger = logger
}
