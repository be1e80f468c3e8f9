package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger.
func InitLogger(app AppConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer = os.Stdout
	if app.LogFormat == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", app.ServiceName).
		Logger().
		Level(ParseLevel(app.LogLevel))

	// log.Ctx falls back to the global logger when no request logger is attached.
	zerolog.DefaultContextLogger = &log.Logger
}

func ParseLevel(value string) zerolog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}
