package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, text, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only

	// Attrs are attached to every record, e.g. service name and version
	Attrs []slog.Attr

	writer io.Writer
}

// Logger is the process-wide slog.Logger plus the log file it may own
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a logger. Console output is colorized with tint unless it
// goes to a file.
func New(config *Config) (*Logger, error) {
	writer, closer, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	handler := newHandler(config, writer, closer != nil)
	if len(config.Attrs) > 0 {
		handler = handler.WithAttrs(config.Attrs)
	}
	return &Logger{Logger: slog.New(handler), closer: closer}, nil
}

func newHandler(config *Config, w io.Writer, toFile bool) slog.Handler {
	level := parseLevel(config.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: config.EnableSource}

	switch config.Format {
	case "text":
		return slog.NewTextHandler(w, opts)
	case "console", "":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  config.EnableSource,
			TimeFormat: timeFormat,
			NoColor:    toFile,
		})
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// openOutput resolves the configured output. The closer is non-nil only for files.
func openOutput(config *Config) (io.Writer, io.Closer, error) {
	if config.writer != nil {
		return config.writer, nil, nil
	}

	switch config.Output {
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout", "":
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.Output), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

// parseLevel accepts slog level names in any case, plus "warning".
// Anything unparseable logs at info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Component returns a logger tagged with the component name
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
