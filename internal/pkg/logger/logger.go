// Package logger provides the process-wide zerolog logger and a context-aware
// accessor that stamps the current request id onto every log line.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "" {
		format = "json"
	}

	if format == "console" {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// WithCtx returns Logger enriched with the request id carried on ctx, if
// any. Safe to call before Init (falls back to the zero-value logger, which
// has no writer and discards every event).
func WithCtx(ctx context.Context) zerolog.Logger {
	rid := appctx.GetRequestID(ctx)
	if rid == "" {
		return Logger
	}
	return Logger.With().Str("request_id", rid).Logger()
}
