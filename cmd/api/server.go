package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanaccrual/pkg/accrual"
	"github.com/mcclellann/loanaccrual/pkg/ledger"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/obs"
	"github.com/mcclellann/loanaccrual/pkg/reprocess"
	"github.com/mcclellann/loanaccrual/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	log     *zap.Logger
	limiter *rate.Limiter
}

func NewServer(l *ledger.Ledger, s store.Storage, log *zap.Logger, limiter *rate.Limiter) *Server {
	return &Server{
		ledger:  l,
		storage: s,
		log:     log,
		limiter: limiter,
	}
}

// Router wires the read endpoints and the rate-limited accrual triggers.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, obs.Instrument)

	router.Handle("/metrics", obs.Handler()).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/transactions", s.listTransactionsHandler).Methods("GET")

	router.Handle("/accruals/periodic", s.limited(s.periodicBatchHandler)).Methods("POST")
	router.Handle("/loans/{id}/accruals", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, d *time.Time) error {
		return s.ledger.AddPeriodicAccrualsForLoan(ctx, id, s.dateOrToday(d))
	}))).Methods("POST")
	router.Handle("/loans/{id}/accruals/accounting", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, d *time.Time) error {
		return s.ledger.AddAccrualAccounting(ctx, id, s.dateOrToday(d))
	}))).Methods("POST")
	router.Handle("/loans/{id}/accruals/recalculation", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, _ *time.Time) error {
		return s.ledger.ProcessAccrualsForInterestRecalculation(ctx, id)
	}))).Methods("POST")
	router.Handle("/loans/{id}/accruals/reprocess", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, _ *time.Time) error {
		return s.ledger.ReprocessExistingAccruals(ctx, id)
	}))).Methods("POST")
	router.Handle("/loans/{id}/accruals/closure", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, _ *time.Time) error {
		return s.ledger.ProcessAccrualsForLoanClosure(ctx, id)
	}))).Methods("POST")
	router.Handle("/loans/{id}/accruals/foreclosure", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, d *time.Time) error {
		if d == nil {
			return errMissingDate
		}
		return s.ledger.ProcessAccrualsForLoanForeclosure(ctx, id, *d)
	}))).Methods("POST")
	router.Handle("/loans/{id}/income-postings", s.limited(s.loanTrigger(func(ctx context.Context, id uuid.UUID, _ *time.Time) error {
		return s.ledger.AddIncomeAndAccrualTransactions(ctx, id)
	}))).Methods("POST")

	return router
}

var errMissingDate = errors.New("date is required")

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Too many accrual requests", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	})
}

func (s *Server) dateOrToday(d *time.Time) time.Time {
	if d != nil {
		return *d
	}
	return models.DateOf(time.Now())
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var loan models.Loan
	if err := json.NewDecoder(r.Body).Decode(&loan); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := s.ledger.CreateLoan(r.Context(), &loan)
	if err != nil {
		s.log.Error("Error creating loan", zap.Error(err))
		http.Error(w, "Failed to create loan: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}

	txs, err := s.ledger.GetTransactionsForLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}

	writeJSON(w, http.StatusOK, txs)
}

type dateRequest struct {
	Date string `json:"date"`
	Till string `json:"till"`
}

// parseDate reads an optional {"date": "YYYY-MM-DD"} or {"till": ...} body.
func parseDate(r *http.Request) (*time.Time, error) {
	var req dateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if v := r.URL.Query().Get("till"); v != "" {
		req.Till = v
	}
	value := req.Date
	if value == "" {
		value = req.Till
	}
	if value == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// loanTrigger adapts a per-loan ledger operation to a handler that answers with
// the loan as stored after the pass.
func (s *Server) loanTrigger(op func(ctx context.Context, id uuid.UUID, date *time.Time) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, ok := loanIDFrom(w, r)
		if !ok {
			return
		}
		date, err := parseDate(r)
		if err != nil {
			http.Error(w, "Invalid date: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := op(r.Context(), loanID, date); err != nil {
			s.writeError(w, err)
			return
		}

		loan, err := s.ledger.GetLoan(r.Context(), loanID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

type batchFailure struct {
	LoanID uuid.UUID `json:"loan_id"`
	Error  string    `json:"error"`
}

type batchResponse struct {
	Till     string         `json:"till"`
	Loans    int            `json:"loans"`
	Posted   int            `json:"posted"`
	Failures []batchFailure `json:"failures"`
}

func (s *Server) periodicBatchHandler(w http.ResponseWriter, r *http.Request) {
	till, err := parseDate(r)
	if err != nil {
		http.Error(w, "Invalid date: "+err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.ledger.AddPeriodicAccruals(r.Context(), s.dateOrToday(till))
	var batchErr *ledger.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		s.writeError(w, err)
		return
	}

	resp := batchResponse{
		Till:     report.Till.Format(dateLayout),
		Loans:    len(report.Results),
		Posted:   report.Posted(),
		Failures: []batchFailure{},
	}
	for _, f := range report.Failed() {
		resp.Failures = append(resp.Failures, batchFailure{LoanID: f.LoanID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func loanIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.Is(err, errMissingDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, accrual.ErrValidation), errors.Is(err, ledger.ErrNotEligible):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, reprocess.ErrUnexpectedStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
