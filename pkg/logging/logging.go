// Package logging configures the process-wide leveled logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/jfrog/jfrog-client-go/utils/log"
)

// ParseLevel maps a config level name to a logger level.
func ParseLevel(level string) (log.LevelType, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	}
	return log.INFO, fmt.Errorf("unknown log level %q", level)
}

// Setup installs the global logger. A nil writer logs to stderr.
func Setup(level string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLogger(log.NewLogger(lvl, w))
	return nil
}
