package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, "console", LevelInfo)
)

// SetupLogger configures the global provider from CLI flags and routes
// warnings from pkg/errors through it.
//
// format is "json" or "console".
func SetupLogger(level, format string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if format != "json" && format != "console" {
		return fmt.Errorf("invalid log format %q (expected json or console)", format)
	}
	if w == nil {
		w = os.Stderr
	}
	SetProvider(NewZerologProvider(w, format, lvl))
	scierrors.SetZerologWarnFunc(func(warning error) {
		GetLoggerWithName("warnings").Warn(warning.Error(), ErrorTypeKey, fmt.Sprintf("%T", warning))
	})
	return nil
}

// SetProvider replaces the global provider. Tests install a TestLoggerProvider here.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	provider = p
	providerMu.Unlock()
}

// GetLogger returns a logger from the global provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a component logger from the global provider.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}
