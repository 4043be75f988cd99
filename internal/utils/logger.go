package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LoggerOptions configures the process logger.
type LoggerOptions struct {
	// Console receives coloured output. Nil disables console logging.
	Console *os.File
	// LogFile is the persistent log sink. Empty disables file logging.
	LogFile string
	Level   slog.Level
}

type loggerCloser struct {
	interceptor *LogInterceptor
	file        *os.File
}

func (c *loggerCloser) Close() error {
	if c.interceptor != nil {
		_ = c.interceptor.Close()
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// NewLogger builds the console + file logger. The returned closer flushes and closes the log file.
func NewLogger(opts LoggerOptions) (*slog.Logger, io.Closer, error) {
	closer := &loggerCloser{}
	var handlers []slog.Handler

	if opts.Console != nil {
		handlers = append(handlers, tint.NewHandler(opts.Console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !isatty.IsTerminal(opts.Console.Fd()),
		}))
	}

	if opts.LogFile != "" {
		if err := EnsureParent(opts.LogFile); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closer.file = file
		closer.interceptor = NewLogInterceptor(file)
		handlers = append(handlers, slog.NewTextHandler(closer.interceptor, &slog.HandlerOptions{
			Level: opts.Level,
			// time is added by the interceptor
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
	}

	return slog.New(NewMultiLogHandler(handlers...)), closer, nil
}

// LoggerOrDefault returns l, or slog.Default() when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
