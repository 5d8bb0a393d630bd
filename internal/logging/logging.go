// Package logging builds the root logger every component derives from.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a timestamped logger writing to w at the given level
// (debug, info, warn, error). An empty level means info.
func New(level string, w io.Writer) (*log.Logger, error) {
	lvl := log.InfoLevel
	if level != "" {
		var err error
		lvl, err = log.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("logging level %q: %w", level, err)
		}
	}
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	}), nil
}

// Setup builds the root logger and makes it the package default, so code
// still calling log.Info and friends ends up in the same place.
func Setup(level string) (*log.Logger, error) {
	logger, err := New(level, os.Stderr)
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)
	return logger, nil
}
