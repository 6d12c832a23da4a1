// Package sinks provides progress sink implementations.
package sinks

import (
	"go.uber.org/zap"

	"github.com/licitabr/pncp-mirror/internal/progress"
)

// LogSink writes progress events as structured logs. Date-level milestones
// log at Info; per-page movement stays at Debug so normal runs are quiet
// unless tracing is on.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Observe logs one event.
func (s *LogSink) Observe(evt progress.Event) {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("dataset", evt.Dataset),
		zap.String("stage", string(evt.Stage)),
		zap.String("date", evt.DateRef),
		zap.Int("partition", evt.Partition),
		zap.Int64("done", evt.Done),
		zap.Int64("total", evt.Total),
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	switch evt.Stage {
	case progress.StageDateDone, progress.StageDateFailed, progress.StagePageSkip:
		s.logger.Info("sync progress", fields...)
	default:
		s.logger.Debug("sync progress", fields...)
	}
}
