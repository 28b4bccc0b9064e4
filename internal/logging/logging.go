package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// Setup configures the package-level logger. format is "console" or "json";
// anything else falls back to console.
func Setup(level, format string) {
	log.DefaultLogger = New(level, format, os.Stderr)
}

// New builds a logger writing to w.
func New(level, format string, w io.Writer) log.Logger {
	if level == "" {
		level = "info"
	}
	logger := log.Logger{
		Level:      log.ParseLevel(strings.ToLower(level)),
		Caller:     1,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	if strings.EqualFold(format, "json") {
		logger.Writer = &log.IOWriter{Writer: w}
	} else {
		logger.Writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    w == os.Stderr,
			QuoteString:    true,
			EndWithMessage: true,
		}
	}
	return logger
}
