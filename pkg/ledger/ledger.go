package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/accrual"
	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/events"
	"github.com/mcclellann/loanaccrual/pkg/ids"
	"github.com/mcclellann/loanaccrual/pkg/journal"
	"github.com/mcclellann/loanaccrual/pkg/lock"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/obs"
	"github.com/mcclellann/loanaccrual/pkg/reprocess"
	"github.com/mcclellann/loanaccrual/pkg/store"
	"go.uber.org/zap"
)

const (
	OpPeriodicAccrual   = "periodic_accrual"
	OpAccrualAccounting = "accrual_accounting"
	OpInterestRecalc    = "interest_recalculation"
	OpReprocess         = "reprocess"
	OpClosure           = "closure"
	OpForeclosure       = "foreclosure"
	OpIncomeAndAccrual  = "income_posting"
	lockKeyPrefix       = "loan-accrual:"
)

// Ledger runs accrual passes against stored loans. Each pass over a loan is one
// database transaction: the journal is called before commit and its failure
// rolls the loan back.
type Ledger struct {
	storage store.Storage // Use the Storage interface
	journal journal.Journal
	bus     *events.Bus
	locker  lock.Locker
	ids     *ids.Generator
	cfg     config.Config
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Ledger)

func WithJournal(j journal.Journal) Option { return func(l *Ledger) { l.journal = j } }

func WithEventBus(b *events.Bus) Option { return func(l *Ledger) { l.bus = b } }

func WithLocker(lk lock.Locker) Option { return func(l *Ledger) { l.locker = lk } }

func WithIDGenerator(g *ids.Generator) Option { return func(l *Ledger) { l.ids = g } }

func WithConfig(cfg config.Config) Option { return func(l *Ledger) { l.cfg = cfg } }

// WithClock replaces time.Now. The business date is the clock's UTC date.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		bus:     events.NewBus(),
		locker:  lock.NewLocal(),
		cfg:     config.Default(),
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.journal == nil {
		l.journal = journal.NewLogJournal(l.log)
	}
	if l.ids == nil {
		l.ids = ids.MustGenerator(1)
	}
	return l
}

// Events is the bus accrual events are published on.
func (l *Ledger) Events() *events.Bus {
	return l.bus
}

func (l *Ledger) businessDate() time.Time {
	return models.DateOf(l.now())
}

// CreateLoan stores a loan aggregate, assigning ids to the loan, its charges and
// its transactions where missing.
func (l *Ledger) CreateLoan(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	now := l.now()
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = now
	}
	loan.UpdatedAt = now
	if loan.CompoundingMethod == "" {
		loan.CompoundingMethod = models.CompoundingNone
	}
	for i := range loan.Charges {
		if loan.Charges[i].ID == 0 {
			loan.Charges[i].ID = l.ids.Next()
		}
	}
	for _, tx := range loan.Transactions {
		tx.LoanID = loan.ID
		if tx.OfficeID == 0 {
			tx.OfficeID = loan.OfficeID
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
	}
	l.assignIDs(loan.NewTransactions())

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

func (l *Ledger) GetTransactionsForLoan(ctx context.Context, id uuid.UUID) ([]*models.Transaction, error) {
	return l.storage.GetTransactionsForLoan(ctx, id)
}

// AddPeriodicAccrualsForLoan accrues one loan up to till: installments due by
// till in full, the installment straddling till pro rata.
func (l *Ledger) AddPeriodicAccrualsForLoan(ctx context.Context, loanID uuid.UUID, till time.Time) error {
	_, err := l.periodicAccrual(ctx, loanID, till)
	return err
}

func (l *Ledger) periodicAccrual(ctx context.Context, loanID uuid.UUID, till time.Time) (*passResult, error) {
	return l.run(ctx, OpPeriodicAccrual, loanID, func(loan *models.Loan, now time.Time) error {
		if !accrual.Eligible(loan) {
			return ErrNotEligible
		}
		accruals, err := accrual.Compute(loan, till, models.DateOf(now), l.cfg)
		if err != nil {
			return err
		}
		_, err = accrual.ApplyAll(loan, accruals, now)
		return err
	})
}

// AddAccrualAccounting books full-period accruals for every installment due by
// till, for a loan whose product was switched to periodic accrual.
func (l *Ledger) AddAccrualAccounting(ctx context.Context, loanID uuid.UUID, till time.Time) error {
	_, err := l.run(ctx, OpAccrualAccounting, loanID, func(loan *models.Loan, now time.Time) error {
		if !accrual.Eligible(loan) {
			return ErrNotEligible
		}
		accruals, err := accrual.ComputeFull(loan, till, l.cfg)
		if err != nil {
			return err
		}
		_, err = accrual.ApplyAll(loan, accruals, now)
		return err
	})
	return err
}

// ProcessAccrualsForInterestRecalculation re-accrues an interest-recalculation
// loan up to its watermark after its schedule was regenerated.
func (l *Ledger) ProcessAccrualsForInterestRecalculation(ctx context.Context, loanID uuid.UUID) error {
	_, err := l.run(ctx, OpInterestRecalc, loanID, func(loan *models.Loan, now time.Time) error {
		businessDate := models.DateOf(now)
		snaps, till := accrual.BuildRecalculationSnapshots(loan, businessDate, l.cfg)
		if len(snaps) == 0 {
			return nil
		}
		accruals, err := accrual.ComputeSnapshots(loan, snaps, till, businessDate, l.cfg)
		if err != nil {
			return err
		}
		_, err = accrual.ApplyAll(loan, accruals, now)
		return err
	})
	return err
}

// ReprocessExistingAccruals reconciles booked accruals with the loan's current
// schedule, then re-accrues an active periodic loan up to the business date.
func (l *Ledger) ReprocessExistingAccruals(ctx context.Context, loanID uuid.UUID) error {
	_, err := l.run(ctx, OpReprocess, loanID, func(loan *models.Loan, now time.Time) error {
		businessDate := models.DateOf(now)
		reprocess.ExistingAccruals(loan, l.cfg, now)
		if loan.CompoundingAsIncome {
			reprocess.IncomePostingAndAccruals(loan, businessDate, now)
		}
		if !accrual.Eligible(loan) {
			return nil
		}
		accruals, err := accrual.Compute(loan, businessDate, businessDate, l.cfg)
		if err != nil {
			return err
		}
		_, err = accrual.ApplyAll(loan, accruals, now)
		return err
	})
	return err
}

// ProcessAccrualsForLoanClosure books the remaining receivable income of a
// closed or overpaid loan.
func (l *Ledger) ProcessAccrualsForLoanClosure(ctx context.Context, loanID uuid.UUID) error {
	_, err := l.run(ctx, OpClosure, loanID, func(loan *models.Loan, now time.Time) error {
		return reprocess.LoanClosure(loan, now)
	})
	return err
}

// ProcessAccrualsForLoanForeclosure reverses accruals after date and books the
// receivable income outstanding on it.
func (l *Ledger) ProcessAccrualsForLoanForeclosure(ctx context.Context, loanID uuid.UUID, date time.Time) error {
	date = models.DateOf(date)
	_, err := l.run(ctx, OpForeclosure, loanID, func(loan *models.Loan, now time.Time) error {
		reprocess.LoanForeclosure(loan, date, l.cfg, now)
		return nil
	})
	return err
}

// AddIncomeAndAccrualTransactions books income postings for compounding details
// effective before the business date.
func (l *Ledger) AddIncomeAndAccrualTransactions(ctx context.Context, loanID uuid.UUID) error {
	_, err := l.run(ctx, OpIncomeAndAccrual, loanID, func(loan *models.Loan, now time.Time) error {
		reprocess.IncomePostingAndAccruals(loan, models.DateOf(now), now)
		return nil
	})
	return err
}

type passResult struct {
	loan     *models.Loan
	created  []*models.Transaction
	reversed []*models.Transaction
}

// run is the per-loan unit of work: lock, load, mutate, save, journal, commit.
// Events and metrics are emitted only after the commit.
func (l *Ledger) run(ctx context.Context, op string, loanID uuid.UUID, mutate func(loan *models.Loan, now time.Time) error) (*passResult, error) {
	unlock, err := l.locker.Lock(ctx, lockKeyPrefix+loanID.String())
	if err != nil {
		return nil, l.fail(op, loanID, fmt.Errorf("failed to lock loan: %w", err))
	}
	defer unlock()

	now := l.now()
	var res passResult
	err = l.storage.WithinTx(ctx, func(tx store.Tx) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		before := reversedIDs(loan)
		if err := mutate(loan, now); err != nil {
			return err
		}

		res = passResult{loan: loan, created: loan.NewTransactions()}
		for _, t := range loan.Transactions {
			if t.Reversed && !t.IsNew() && !before[t.ID] {
				res.reversed = append(res.reversed, t)
			}
		}
		if len(res.created) > 0 || len(res.reversed) > 0 {
			l.assignIDs(res.created)
			loan.UpdatedAt = now
		}
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return fmt.Errorf("%w: failed to save loan: %w", ErrPersistence, err)
		}
		for _, t := range append(append([]*models.Transaction(nil), res.created...), res.reversed...) {
			if err := l.journal.CreateJournalEntriesForLoan(ctx, journal.NewPayload(loan, t)); err != nil {
				return fmt.Errorf("%w: failed to create journal entries for transaction %d: %w", ErrPersistence, t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, l.fail(op, loanID, err)
	}

	l.committed(op, &res)
	return &res, nil
}

func (l *Ledger) fail(op string, loanID uuid.UUID, err error) error {
	obs.RecordFailure(op)
	l.log.Error("accrual pass failed",
		zap.String("loan_id", loanID.String()),
		zap.String("operation", op),
		zap.Error(err),
	)
	return &LoanError{LoanID: loanID, Op: op, Err: err}
}

func (l *Ledger) committed(op string, res *passResult) {
	if len(res.created) == 0 && len(res.reversed) == 0 {
		return
	}
	byType := map[models.TransactionType]int{}
	occurred := l.now()
	for _, t := range res.created {
		byType[t.Type]++
		if t.Type != models.TransactionTypeAccrual || t.Reversed {
			continue
		}
		l.bus.Publish(events.Event{
			Type:          events.AccrualTransactionCreated,
			LoanID:        t.LoanID,
			TransactionID: t.ID,
			Date:          t.Date,
			Amount:        t.Amount,
			OccurredAt:    occurred,
		})
	}
	for typ, n := range byType {
		obs.RecordPosted(op, string(typ), n)
	}
	obs.RecordReversed(op, len(res.reversed))

	l.log.Info("accrual pass committed",
		zap.String("loan_id", res.loan.ID.String()),
		zap.String("operation", op),
		zap.Int("created", len(res.created)),
		zap.Int("reversed", len(res.reversed)),
	)
}

func (l *Ledger) assignIDs(txs []*models.Transaction) {
	for _, t := range txs {
		t.ID = l.ids.Next()
		if l.cfg.ExternalIDAutoGeneration && t.ExternalID == "" {
			t.ExternalID = ids.ExternalID()
		}
	}
}

func reversedIDs(loan *models.Loan) map[int64]bool {
	out := map[int64]bool{}
	for _, t := range loan.Transactions {
		if t.Reversed && !t.IsNew() {
			out[t.ID] = true
		}
	}
	return out
}
