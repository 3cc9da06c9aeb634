// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
)

// L is the process-wide logger. Commands replace it once configuration is loaded.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// New returns a logger writing to w. format is "text" or "json".
func New(level, format string, w io.Writer) (*clog.Logger, error) {
	lvl, err := clog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	l := clog.NewWithOptions(w, clog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(clog.TextFormatter)
	case "json":
		l.SetFormatter(clog.JSONFormatter)
	case "logfmt":
		l.SetFormatter(clog.LogfmtFormatter)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return l, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *clog.Logger {
	return clog.New(io.Discard)
}
