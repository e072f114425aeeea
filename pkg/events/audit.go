package events

import (
	"context"

	"go.uber.org/zap"
)

// LogEvent writes an audit line for evt.
func LogEvent(log *zap.Logger, evt Event) {
	log.Info("audit",
		zap.String("event", evt.Type),
		zap.String("loan_id", evt.LoanID.String()),
		zap.Int64("transaction_id", evt.TransactionID),
		zap.String("date", evt.Date.Format("2006-01-02")),
		zap.String("amount", evt.Amount.String()),
		zap.Time("occurred_at", evt.OccurredAt),
	)
}

// RunAudit logs every event published on bus until ctx ends.
func RunAudit(ctx context.Context, bus *Bus, log *zap.Logger) {
	for evt := range bus.Subscribe(ctx) {
		LogEvent(log, evt)
	}
}
