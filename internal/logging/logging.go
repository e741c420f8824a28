package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger fields
const (
	Component = "component"
	Service   = "svc"
	Order     = "order"
	Status    = "status"
	Event     = "event"
	Topic     = "topic"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger. When cfg.File is set, output is teed into a
// size-rotated file; the returned Closer releases it.
func New(cfg config.Log, service string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Str(Service, service).Logger()
	return l, closer, nil
}

// For returns a child logger tagged with the component name.
func For(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str(Component, component).Logger()
}
