package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Interface describes the minimal logging interface the worker relies on.
type Interface interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

var (
	globalLogger zerolog.Logger
	once         sync.Once
)

func base() zerolog.Logger {
	once.Do(func() {
		globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return globalLogger
}

// Logger returns the zerolog-backed process logger.
func Logger() Interface {
	return &zerologAdapter{log: base()}
}

// For returns a logger scoped to one component of the pipeline; the
// component name is attached to every entry.
func For(component string) Interface {
	return &zerologAdapter{log: base().With().Str("component", component).Logger()}
}

type zerologAdapter struct {
	log zerolog.Logger
}

func (l *zerologAdapter) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *zerologAdapter) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *zerologAdapter) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *zerologAdapter) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}
