package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Logger implements onboarding.Logger using zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter. A nil logger disables output.
func NewLogger(logger *zerolog.Logger) *Logger {
	if logger == nil {
		return &Logger{logger: zerolog.Nop()}
	}
	return &Logger{logger: *logger}
}

func (l *Logger) Debug(msg string, fields ...onboarding.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...onboarding.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...onboarding.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...onboarding.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []onboarding.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			event = event.AnErr(f.Key, v)
		case string:
			event = event.Str(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}

var _ onboarding.Logger = (*Logger)(nil)
