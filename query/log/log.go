package log

import (
	"fmt"

	"github.com/on-the-ground/query_ive_go/query"
	"go.uber.org/zap"
)

// ZapObserver writes engine events to a zap.Logger.
type ZapObserver struct {
	logger *zap.Logger
}

func NewZapObserver(logger *zap.Logger) *ZapObserver {
	return &ZapObserver{logger: logger.Named("query")}
}

func (o *ZapObserver) OnEvent(e query.Event) {
	fields := []zap.Field{
		zap.String("function", e.Function),
		zap.String("key", fmt.Sprint(e.Key)),
		zap.Stringer("revision", e.Revision),
	}

	switch e.Kind {
	case query.EventHit, query.EventVerified:
		o.logger.Debug(e.Kind.String(), fields...)
	case query.EventExecuted:
		fields = append(fields,
			zap.Duration("took", e.Span.Duration()),
			zap.Bool("backdated", e.Backdated),
		)
		o.logger.Info(e.Kind.String(), fields...)
	case query.EventCycle:
		o.logger.Warn(e.Kind.String(), fields...)
	default:
		o.logger.Debug(e.Kind.String(), fields...)
	}
}

// Sync flushes the underlying logger.
func (o *ZapObserver) Sync() {
	if err := o.logger.Sync(); err != nil {
		o.logger.Warn("failed to sync logger", zap.Error(err))
	}
}
