package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
)

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func newAsynqLogger(l zerolog.Logger) *asynqLogger {
	return &asynqLogger{logger: logging.Component(l, "asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
