package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/chatrelay/pkg/config"
)

// Config holds logger construction options.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Format is the output format (json, text, console).
	Format string

	// AddSource includes file and line in each record.
	AddSource bool

	// RedactSecrets enables credential redaction.
	RedactSecrets bool

	// RedactPatterns are appended to the built-in redaction patterns.
	RedactPatterns []config.RedactPattern

	// Writer receives log output. Defaults to os.Stdout.
	Writer io.Writer
}

// ConfigFrom converts the configuration file section into a Config.
func ConfigFrom(c config.LoggingConfig) Config {
	return Config{
		Level:          c.Level,
		Format:         c.Format,
		AddSource:      c.AddSource,
		RedactSecrets:  c.RedactSecrets,
		RedactPatterns: c.RedactPatterns,
	}
}

// Logger is an slog.Logger whose level can change at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}

	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	var redactor *Redactor
	if cfg.RedactSecrets {
		redactor = NewRedactor(cfg.RedactPatterns)
	}

	return &Logger{
		Logger: slog.New(NewHandler(inner, redactor)),
		level:  lv,
	}, nil
}

// Setup creates a Logger from the configuration file section and installs
// it as the slog default.
func Setup(c config.LoggingConfig) (*Logger, error) {
	l, err := New(ConfigFrom(c))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	return l, nil
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level string) error {
	lv, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(lv)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}

func parseFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return "json", nil
	case "text", "console":
		return "text", nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
