package dispatch

import (
	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/metrics"
	"modnet/internal/transport"
)

type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// Reporter is told about messages the dispatcher could not deliver.
type Reporter interface {
	NoHandler(side Side, h Header, sender transport.SenderID)
	Failed(side Side, h Header, sender transport.SenderID, err error)
}

// LogReporter logs misses and failures and counts them when metrics are set.
type LogReporter struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLogReporter(log *zap.Logger, m *metrics.Metrics) *LogReporter {
	return &LogReporter{log: logging.OrNop(log), metrics: m}
}

func (r *LogReporter) NoHandler(side Side, h Header, sender transport.SenderID) {
	r.log.Warn("no handler for msgID",
		zap.String("side", string(side)),
		zap.Uint16("msg_id", uint16(h.Message)),
		zap.Uint16("module_id", uint16(h.Module)),
		zap.Bool("scoped", h.Scoped),
		zap.Stringer("sender", sender),
		zap.String("reason", "handler_not_found"),
	)
	if r.metrics != nil {
		r.metrics.NoHandler.WithLabelValues(string(side)).Inc()
	}
}

func (r *LogReporter) Failed(side Side, h Header, sender transport.SenderID, err error) {
	r.log.Warn("dispatch failed",
		zap.String("side", string(side)),
		zap.String("tag", h.Tag.String()),
		zap.Uint16("msg_id", uint16(h.Message)),
		zap.Uint16("module_id", uint16(h.Module)),
		zap.Stringer("sender", sender),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.DispatchErrors.WithLabelValues(string(side)).Inc()
	}
}
