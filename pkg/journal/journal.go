package journal

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Journal creates journal entries for a loan's new or reversed transactions.
// An error aborts the loan's accrual pass.
type Journal interface {
	CreateJournalEntriesForLoan(ctx context.Context, p Payload) error
}

// Recorder keeps every payload in memory. Err, when set, is returned instead.
type Recorder struct {
	mu       sync.Mutex
	payloads []Payload
	Err      error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) CreateJournalEntriesForLoan(_ context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.payloads = append(r.payloads, p)
	return nil
}

// Payloads returns a copy of what was recorded.
func (r *Recorder) Payloads() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payload(nil), r.payloads...)
}

// LogJournal writes payload summaries to the log. Used when no accounting
// service is configured.
type LogJournal struct {
	log *zap.Logger
}

func NewLogJournal(log *zap.Logger) *LogJournal {
	return &LogJournal{log: log}
}

func (j *LogJournal) CreateJournalEntriesForLoan(_ context.Context, p Payload) error {
	for _, tx := range p.NewTransactions {
		j.log.Info("journal entry",
			zap.String("loan_id", p.LoanID.String()),
			zap.Int64("transaction_id", tx.ID),
			zap.String("type", tx.Type),
			zap.Bool("reversed", tx.Reversed),
			zap.String("date", tx.Date),
			zap.String("amount", tx.Amount.String()),
			zap.String("currency", p.CurrencyCode),
		)
	}
	return nil
}
