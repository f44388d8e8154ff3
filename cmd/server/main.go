package main

// @title           Exchange Realtime Service API
// @version         1.0
// @description     Trade messaging and notification delivery for the currency exchange.
// @host            localhost:8080
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange-service/internal/adapters/kafka"
	"exchange-service/internal/adapters/storage"
	"exchange-service/internal/api/routes"
	"exchange-service/internal/config"
	"exchange-service/internal/database"
	"exchange-service/internal/realtime"
	"exchange-service/internal/repositories/postgres"
	"exchange-service/internal/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting exchange realtime server")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := database.NewMongoConnection(&cfg.Mongo)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer mongoDB.Close()

	minioClient, err := storage.NewMinIOClient(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		false,
	)
	if err != nil {
		slog.Error("Failed to connect to MinIO", "error", err)
		os.Exit(1)
	}

	syncProducer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	producer := kafka.NewEventProducer(syncProducer, cfg.Kafka.Topic, slog.Default())
	defer producer.Close()

	redisService := services.NewRedisService(redisClient)
	tradeRepo := postgres.NewTradeRepository(db)

	dispatcher := realtime.NewDispatcher(
		tradeRepo,
		slog.Default(),
		realtime.WithPresenceStore(redisService),
		realtime.WithRoomBus(redisService),
	)
	go dispatcher.Run()

	tracker := realtime.NewTracker(dispatcher, slog.Default())

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewEventConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, tracker, slog.Default())
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			slog.Error("Domain event consumer stopped", "error", err)
		}
	}()

	router := routes.NewRouter(routes.Deps{
		Dispatcher:   dispatcher,
		Tracker:      tracker,
		Upgrader:     realtime.NewUpgrader(cfg.Server.AllowedOrigins),
		RedisService: redisService,
		DB:           db,
		MongoDB:      mongoDB.DB,
		Storage:      minioClient,
		Producer:     producer,
		JWTSecret:    cfg.JWT.Secret,
	})
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopConsumer()
	if err := consumer.Close(); err != nil {
		slog.Error("Failed to close consumer", "error", err)
	}
	dispatcher.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
