package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/adminauth/internal/api"
	"github.com/honeynil/adminauth/internal/config"
	"github.com/honeynil/adminauth/internal/handler"
	"github.com/honeynil/adminauth/internal/infrastructure/auth"
	"github.com/honeynil/adminauth/internal/infrastructure/kafka"
	infraobs "github.com/honeynil/adminauth/internal/infrastructure/observability"
	"github.com/honeynil/adminauth/internal/infrastructure/redis"
	"github.com/honeynil/adminauth/internal/migrations"
	"github.com/honeynil/adminauth/internal/observability"
	core "github.com/honeynil/adminauth/internal/repository/postgres"
	service "github.com/honeynil/adminauth/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Конфигурация: без секретов подписи сервис не стартует
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем логи, метрики, трейсы
	shutdownTracing := observability.Setup(ctx, observability.Options{
		ServiceName:    "adminauth",
		LogLevel:       infraobs.ParseLevel(cfg.LogLevel),
		TracingEnabled: cfg.OTelEnabled,
	})
	defer shutdownTracing(context.Background())

	// Подключаемся к Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := migrations.Up(ctx, db); err != nil {
		return err
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	codec, err := auth.NewJWTCodec(cfg.JWTSecret, cfg.RefreshTokenSecret)
	if err != nil {
		return err
	}

	// Инициализируем зависимости
	userRepo := core.NewPostgresUserRepository(db)
	auditRepo := core.NewPostgresAuditRepository(db)
	sessions := auth.NewSessionManager(codec, auth.NewCookieStore(cfg.IsProduction()))
	gate := auth.NewGate(codec, sessions)
	svc := service.NewAuthService(userRepo, auditRepo, redisClient, producer, cfg.KafkaAuditTopic, service.ThrottleConfig{
		MaxAttempts: cfg.LoginMaxAttempts,
		Lockout:     cfg.LoginLockout,
	})

	// Консьюмер аудита пишет события входа/выхода в auth_audit
	auditConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaAuditTopic, cfg.KafkaGroupID, auditRepo)
	go auditConsumer.Consume(ctx)
	defer auditConsumer.Close()

	var handlerOpts []handler.Option
	if cfg.TrustProxyHeaders {
		handlerOpts = append(handlerOpts, handler.WithTrustedProxy())
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(handler.NewHandler(svc, sessions, codec, gate, handlerOpts...)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
