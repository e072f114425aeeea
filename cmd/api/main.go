package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/events"
	"github.com/mcclellann/loanaccrual/pkg/ids"
	"github.com/mcclellann/loanaccrual/pkg/journal"
	"github.com/mcclellann/loanaccrual/pkg/ledger"
	"github.com/mcclellann/loanaccrual/pkg/lock"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/obs"
	"github.com/mcclellann/loanaccrual/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const lockTTL = 2 * time.Minute

// runBatches accrues every eligible loan up to the business date on each tick.
func (s *Server) runBatches(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.ledger.AddPeriodicAccruals(ctx, models.DateOf(time.Now()))
			if err != nil {
				s.log.Error("Periodic accrual batch reported failures", zap.Error(err))
			}
			if report != nil {
				s.log.Info("Periodic accrual batch complete",
					zap.Int("loans", len(report.Results)),
					zap.Int("posted", report.Posted()),
					zap.Duration("duration", report.Duration),
				)
			}
		}
	}
}

func main() {
	cfg, err := config.LoadService()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	obs.Init()

	storage, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer storage.Close()
	logger.Info("Database connection established and schema initialized.", zap.String("driver", cfg.DBDriver))

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedis(cfg.RedisAddr, lockTTL)
		defer redisLocker.Close()
		locker = redisLocker
	}

	var j journal.Journal = journal.NewLogJournal(logger.Named("journal"))
	if cfg.JournalTarget != "" {
		client, err := journal.Dial(cfg.JournalTarget)
		if err != nil {
			logger.Fatal("Failed to connect to journal service", zap.String("target", cfg.JournalTarget), zap.Error(err))
		}
		defer client.Close()
		j = client
	}

	gen, err := ids.NewGenerator(cfg.SnowflakeNodeID)
	if err != nil {
		logger.Fatal("Failed to create id generator", zap.Error(err))
	}

	bus := events.NewBus()
	l := ledger.NewLedger(storage,
		ledger.WithJournal(j),
		ledger.WithEventBus(bus),
		ledger.WithLocker(locker),
		ledger.WithIDGenerator(gen),
		ledger.WithConfig(cfg.Engine),
		ledger.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go events.RunAudit(ctx, bus, logger.Named("audit"))

	server := NewServer(l, storage, logger, rate.NewLimiter(rate.Limit(cfg.TriggerRPS), cfg.TriggerBurst))
	go server.runBatches(ctx, cfg.BatchInterval)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server starting", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
