package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"budgetledger/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. Format "human" writes colored console
// output; anything else writes JSON lines.
func Setup(cfg config.LogConfig) {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "human") {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = zerolog.New(output).With().Timestamp().Str("service", "budget-ledger").Logger()
}
