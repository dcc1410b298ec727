package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logging into zerolog.
// pion is chatty at info, so info lands at debug.
type loggerFactory struct{}

func NewLoggerFactory() logging.LoggerFactory { return loggerFactory{} }

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{z: log.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type leveled struct {
	z zerolog.Logger
}

func (l *leveled) Trace(msg string)                  { l.z.Trace().Msg(msg) }
func (l *leveled) Tracef(format string, args ...any) { l.z.Trace().Msg(fmt.Sprintf(format, args...)) }
func (l *leveled) Debug(msg string)                  { l.z.Trace().Msg(msg) }
func (l *leveled) Debugf(format string, args ...any) { l.z.Trace().Msg(fmt.Sprintf(format, args...)) }
func (l *leveled) Info(msg string)                   { l.z.Debug().Msg(msg) }
func (l *leveled) Infof(format string, args ...any)  { l.z.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l *leveled) Warn(msg string)                   { l.z.Warn().Msg(msg) }
func (l *leveled) Warnf(format string, args ...any)  { l.z.Warn().Msg(fmt.Sprintf(format, args...)) }
func (l *leveled) Error(msg string)                  { l.z.Error().Msg(msg) }
func (l *leveled) Errorf(format string, args ...any) { l.z.Error().Msg(fmt.Sprintf(format, args...)) }
