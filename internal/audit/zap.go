package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink writes each record as a structured log line. Records that are not
// audit-worthy successes are logged at warn level.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Emit implements Sink.
func (s *ZapSink) Emit(_ context.Context, rec Record) error {
	fields := []zap.Field{
		zap.String("id", rec.ID.String()),
		zap.String("type", rec.Type),
		zap.Int("ns", rec.Namespace),
		zap.String("subject", rec.Subject),
		zap.String("op", rec.Op),
		zap.Int("pcr", rec.PCR),
		zap.String("cause", rec.Cause),
		zap.Int("result", rec.Result),
		zap.Bool("audit_info", rec.Info),
	}
	if rec.Info {
		s.logger.Info("integrity audit", fields...)
	} else {
		s.logger.Warn("integrity audit", fields...)
	}
	return nil
}
