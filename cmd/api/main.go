package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/lendengine/pkg/config"
	"github.com/mcclellann/lendengine/pkg/ledger"
	"github.com/mcclellann/lendengine/pkg/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *zap.Logger
}

func NewServer(s store.Storage, logger *zap.Logger, opts ...ledger.Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:  ledger.NewLedger(s, logger, opts...),
		storage: s,
		logger:  logger,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/quote", s.quoteHandler).Methods("POST")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/balance", s.getBalanceHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/penalties", s.listPenaltiesHandler).Methods("GET")
	router.HandleFunc("/payments/{id}/reversal", s.reversePaymentHandler).Methods("POST")
	router.HandleFunc("/penalties/{id}/waiver", s.waivePenaltyHandler).Methods("POST")
	router.HandleFunc("/penalties/sweep", s.sweepPenaltiesHandler).Methods("POST")

	return router
}

// scheduleSweep runs the penalty sweep on the configured cron schedule.
func (s *Server) scheduleSweep(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		s.logger.Info("starting scheduled penalty sweep", zap.String("op", "main.scheduleSweep"))
		if _, err := s.ledger.SweepPenalties(context.Background(), time.Time{}); err != nil {
			s.logger.Error("scheduled penalty sweep finished with errors",
				zap.String("op", "main.scheduleSweep"),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

// ledgerOptions turns the payments and penalties configuration into ledger options.
func ledgerOptions(conf *config.Configuration) ([]ledger.Option, error) {
	order, err := conf.AllocationOrder()
	if err != nil {
		return nil, err
	}
	return []ledger.Option{
		ledger.WithAllocationOrder(order),
		ledger.WithSweepConcurrency(conf.Penalties.SweepConcurrency),
	}, nil
}

func main() {
	configLocation := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := initializeLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sqliteStore, err := store.NewSQLiteStore(conf.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize SQLite store",
			zap.String("op", "main"),
			zap.String("path", conf.Database.Path),
			zap.Error(err),
		)
	}
	defer sqliteStore.Close()

	opts, err := ledgerOptions(conf)
	if err != nil {
		logger.Fatal("invalid ledger configuration",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
	server := NewServer(sqliteStore, logger, opts...)

	if conf.Penalties.SweepSchedule != "" {
		c, err := server.scheduleSweep(conf.Penalties.SweepSchedule)
		if err != nil {
			logger.Fatal("failed to schedule penalty sweep",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
		defer func() {
			<-c.Stop().Done()
		}()
	}

	httpServer := &http.Server{
		Addr:              conf.Server.Address,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("op", "main"),
			zap.String("address", conf.Server.Address),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server", zap.String("op", "main"))
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}
