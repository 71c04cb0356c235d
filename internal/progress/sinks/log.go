package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/siteaudit/internal/progress"
)

// LogSink emits one structured log line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("type", string(evt.Type)),
		}
		if evt.JobID != "" {
			fields = append(fields,
				zap.String("job_id", evt.JobID),
				zap.String("path", evt.Path),
				zap.String("status", string(evt.Status)),
			)
		}
		if evt.Score != nil {
			fields = append(fields, zap.Float64("score", *evt.Score))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Type), "progress event", fields...)
	}
	return nil
}

func levelFor(t progress.Type) zapcore.Level {
	switch t {
	case progress.TypeJobFailed:
		return zapcore.WarnLevel
	case progress.TypeJobAdded, progress.TypeJobStarted:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
