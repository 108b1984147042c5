package worker

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's internal logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// NewCron returns a scheduler whose jobs recover from panics and never
// overlap with themselves.
func NewCron(logger *slog.Logger) *cron.Cron {
	l := cronLogger{logger: logger}
	return cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}
