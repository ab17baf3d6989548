package observability

import (
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
)

// Observe records metrics for one finished ledger operation and logs it:
// commits at info, rejections at debug, internal failures at error.
func Observe(logger *zap.Logger, operation string, start time.Time, err error, fields ...zap.Field) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.Kind(err))
	}
	RecordOperation(operation, outcome, time.Since(start).Seconds())

	if logger == nil {
		return
	}
	fields = append(fields, zap.String("operation", operation))
	switch {
	case err == nil:
		logger.Info("operation committed", fields...)
	case outcome == string(domain.KindInternal):
		logger.Error("operation failed", append(fields, zap.Error(err))...)
	default:
		logger.Debug("operation rejected", append(fields, zap.String("reason", err.Error()))...)
	}
}
