package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"genpool/internal/manager"
)

func buildLogger(w io.Writer, level, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if level == "off" {
		lvl = zerolog.Disabled
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func defaultLogger(level, format string) zerolog.Logger {
	return buildLogger(os.Stderr, level, format)
}

// eventLogger writes pool events to the service log at debug level.
type eventLogger struct{ log zerolog.Logger }

func (l eventLogger) Publish(e manager.Event) {
	ev := l.log.Debug().Str("event", e.Name)
	if e.InstanceID != "" {
		ev = ev.Str("instance_id", e.InstanceID)
	}
	if e.TaskID != "" {
		ev = ev.Str("task_id", e.TaskID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("pool event")
}
