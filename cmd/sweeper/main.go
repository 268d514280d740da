package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	evbus "github.com/asaskevich/EventBus"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/audit"
	"github.com/orderdesk/b2b-portal/internal/config"
	"github.com/orderdesk/b2b-portal/internal/escalate"
	kafkax "github.com/orderdesk/b2b-portal/internal/kafka"
	"github.com/orderdesk/b2b-portal/internal/notify"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024, logger)
	pStatus.Start(ctx)
	pAudit := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicAudit, 1024, logger)
	pAudit.Start(ctx)

	sweeper := &escalate.Sweeper{
		Store:     &escalate.PGStore{DB: db},
		Threshold: cfg.EscalateAfter,
		BatchSize: cfg.SweepBatchSize,
		Parallel:  cfg.SweepParallel,
		Audit:     &audit.KafkaRecorder{Producer: pAudit, Log: logger},
		Notify: &notify.Broadcaster{
			StatusProducer: pStatus,
			Bus:            evbus.New(),
			Service:        cfg.ServiceName + "-sweeper",
			Log:            logger,
		},
		Log: logger,
	}

	runSweep := func() {
		stats, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Error("sweep aborted", zap.Error(err))
		}
		logger.Info("sweep done",
			zap.Int("scanned", stats.Scanned),
			zap.Int("promoted", stats.Promoted),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed))
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.SweepSchedule, runSweep); err != nil {
		logger.Fatal("bad sweep schedule", zap.String("spec", cfg.SweepSchedule), zap.Error(err))
	}
	sched.Start()
	logger.Info("sweeper started",
		zap.String("schedule", cfg.SweepSchedule),
		zap.Duration("threshold", cfg.EscalateAfter))

	// catch up immediately on boot
	runSweep()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down sweeper")

	<-sched.Stop().Done()
	pStatus.Close()
	pAudit.Close()
	cancel()
	pStatus.WaitClosed()
	pAudit.WaitClosed()
}
