package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/audit"
	"github.com/orderdesk/b2b-portal/internal/cart"
	"github.com/orderdesk/b2b-portal/internal/config"
	"github.com/orderdesk/b2b-portal/internal/httpx"
	kafkax "github.com/orderdesk/b2b-portal/internal/kafka"
	"github.com/orderdesk/b2b-portal/internal/lifecycle"
	"github.com/orderdesk/b2b-portal/internal/notify"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/postgres"
	"github.com/orderdesk/b2b-portal/internal/redisx"
	"github.com/orderdesk/b2b-portal/internal/reservation"
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

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	pNew := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, logger)
	pNew.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024, logger)
	pStatus.Start(ctx)
	pAudit := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicAudit, 1024, logger)
	pAudit.Start(ctx)
	pReject := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicReservationFailed, 1024, logger)
	pReject.Start(ctx)

	bus := evbus.New()
	// Live-dashboard subscribers attach here; log them until a WS layer exists.
	_ = bus.SubscribeAsync(orders.BusOrderStatus, func(p orders.OrderStatusChangePayload) {
		logger.Info("order status changed",
			zap.String("order_id", p.OrderID),
			zap.String("from", string(p.PreviousStatus)),
			zap.String("to", string(p.NewStatus)))
	}, false)
	_ = bus.SubscribeAsync(orders.BusNewOrder, func(p orders.NewOrderPayload) {
		logger.Info("new order", zap.String("order_id", p.OrderID))
	}, false)

	broadcaster := &notify.Broadcaster{
		OrderProducer:  pNew,
		StatusProducer: pStatus,
		RejectProducer: pReject,
		Bus:            bus,
		Service:        cfg.ServiceName,
		Log:            logger,
	}
	recorder := &audit.KafkaRecorder{Producer: pAudit, Log: logger}

	// Services & handlers
	validate := validator.New()
	cartRepo := &cart.Repo{DB: db, Redis: rdb, Log: logger}
	coordinator := &reservation.Coordinator{DB: db, Log: logger}
	orderRepo := &orders.Repo{DB: db}
	lc := &lifecycle.Service{
		DB:     db,
		Audit:  recorder,
		Notify: broadcaster,
		Redis:  rdb,
		Log:    logger,
	}

	router := httpx.NewRouter()
	(&httpx.CartHandler{Cart: cartRepo, Coordinator: coordinator, Validate: validate, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Repo: orderRepo, Lifecycle: lc, Redis: rdb, Validate: validate, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pNew, pStatus, pAudit, pReject} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pNew, pStatus, pAudit, pReject} {
		p.WaitClosed()
	}
}
