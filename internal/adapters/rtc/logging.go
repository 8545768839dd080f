package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logs into zerolog. Pion is chatty at
// debug, so everything below minLevel is discarded.
type loggerFactory struct {
	minLevel zerolog.Level
}

func newLoggerFactory(minLevel zerolog.Level) logging.LoggerFactory {
	return loggerFactory{minLevel: minLevel}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{logger: log.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.minLevel)}
}

type pionLogger struct {
	logger zerolog.Logger
}

func (l pionLogger) Trace(msg string)                          { l.logger.Trace().Msg(msg) }
func (l pionLogger) Tracef(format string, args ...interface{}) { l.logger.Trace().Msg(fmt.Sprintf(format, args...)) }
func (l pionLogger) Debug(msg string)                          { l.logger.Debug().Msg(msg) }
func (l pionLogger) Debugf(format string, args ...interface{}) { l.logger.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l pionLogger) Info(msg string)                           { l.logger.Info().Msg(msg) }
func (l pionLogger) Infof(format string, args ...interface{})  { l.logger.Info().Msg(fmt.Sprintf(format, args...)) }
func (l pionLogger) Warn(msg string)                           { l.logger.Warn().Msg(msg) }
func (l pionLogger) Warnf(format string, args ...interface{})  { l.logger.Warn().Msg(fmt.Sprintf(format, args...)) }
func (l pionLogger) Error(msg string)                          { l.logger.Error().Msg(msg) }
func (l pionLogger) Errorf(format string, args ...interface{}) { l.logger.Error().Msg(fmt.Sprintf(format, args...)) }
