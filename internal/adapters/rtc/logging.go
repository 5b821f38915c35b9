package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logs into the global zerolog logger.
type LoggerFactory struct{}

func (LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveled{l: log.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type leveled struct {
	l zerolog.Logger
}

func (z leveled) Trace(msg string)                  { z.l.Trace().Msg(msg) }
func (z leveled) Tracef(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z leveled) Debug(msg string)                  { z.l.Debug().Msg(msg) }
func (z leveled) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z leveled) Info(msg string)                   { z.l.Info().Msg(msg) }
func (z leveled) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z leveled) Warn(msg string)                   { z.l.Warn().Msg(msg) }
func (z leveled) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z leveled) Error(msg string)                  { z.l.Error().Msg(msg) }
func (z leveled) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }
