package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repair-shop-service/config"
	"repair-shop-service/internal/api"
	"repair-shop-service/internal/auth"
	"repair-shop-service/internal/broker"
	"repair-shop-service/internal/redisclient"
	"repair-shop-service/internal/service"
	"repair-shop-service/internal/store"
	"repair-shop-service/internal/util"
	"repair-shop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting repair shop service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.Topic))

	eventPublisher := broker.NewEventPublisher(producer)

	lineItems := service.NewLineItemManager(db, eventPublisher, redisClient, cfg.Business.IdempotencyTTL)
	tickets := service.NewTicketService(db, eventPublisher, cfg.Business.TicketNumberPrefix, cfg.Business.DeviceCodePrefix)
	catalog := service.NewCatalogService(db, redisClient, eventPublisher)
	projector := service.NewStockProjector(db, redisClient, cfg.Business.LowStockAlerts)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	stockConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup)
	stockWorker := worker.NewStockWorker(stockConsumer, projector)
	go func() {
		if err := stockWorker.Start(workerCtx); err != nil {
			logger.Error("Stock worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		lineItems,
		tickets,
		catalog,
		auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		map[string]api.ReadinessCheck{
			"postgres": db.Ping,
			"redis":    redisClient.Ping,
		},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := stockWorker.Stop(); err != nil {
		logger.Error("Error stopping stock worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
