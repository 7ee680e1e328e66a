package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-lunch/internal/api"
	"ms-lunch/internal/cache"
	"ms-lunch/internal/config"
	"ms-lunch/internal/database"
	"ms-lunch/internal/gateway"
	"ms-lunch/internal/inventory"
	inventorydb "ms-lunch/internal/inventory/db"
	"ms-lunch/internal/kafka"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/payment/aggregate"
	paymentdb "ms-lunch/internal/payment/db"
	"ms-lunch/internal/payment/reconcile"
	"ms-lunch/internal/payment/request"
)

func openDB(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
		if err := sqldb.Ping(); err != nil {
			return nil, err
		}
		log.LogDatabase("CONNECT", "postgres", fmt.Sprintf("Connected to %s:%s/%s", cfg.Host, cfg.Port, cfg.Database))
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		sqldb, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers; a single connection avoids lock
		// contention errors under concurrent requests.
		sqldb.SetMaxOpenConns(1)
		log.LogDatabase("CONNECT", "sqlite", "Opened "+cfg.SQLitePath)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx := context.Background()

	// --- Database ---
	bunDB, err := openDB(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	defer bunDB.Close()

	if err := database.Migrate(ctx, bunDB); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}

	// --- Redis (optional today-info cache + cross-instance sweep lock) ---
	var todayCache inventory.InfoCache
	var sweepLock *cache.SweepLock
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis unavailable, running without cache: %v", err))
		} else {
			todayCache = cache.NewTodayCache(redisClient, log)
			sweepLock = cache.NewSweepLock(redisClient, cfg.Sweep.Interval, log)
			log.Info("REDIS", "Today-info cache enabled at "+cfg.Redis.Addr)
		}
	}

	// --- Kafka (optional event stream) ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.OrderCreated, cfg.Kafka.Topics.PaymentConfirmed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
	}

	// --- Services ---
	invDB := &inventorydb.DB{Bun: bunDB}
	payDB := &paymentdb.DB{Bun: bunDB}
	gw := gateway.New(cfg.Gateway, log)
	if !gw.Configured() {
		log.Warn("GATEWAY", "Gateway credentials missing, payment links cannot be created")
	}

	var orderEvents inventory.EventPublisher
	var paymentEvents reconcile.EventPublisher
	if producer != nil {
		orderEvents = producer
		paymentEvents = producer
	}

	invService := inventory.NewService(invDB, orderEvents, todayCache, log)
	aggregator := aggregate.New(payDB, invService, log)
	engine := reconcile.NewEngine(payDB, gw, paymentEvents, cfg.Sweep.BatchSize, log)
	requests := request.NewService(payDB, gw, aggregator, invService, log)
	requests.Engine = engine

	handler := api.NewHandler(invService, aggregator, requests, engine, log)

	// --- Periodic reconciliation sweep ---
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if sweepLock != nil {
					if !sweepLock.TryAcquire(sweepCtx) {
						continue
					}
					engine.Sweep(sweepCtx)
					sweepLock.Release(sweepCtx)
					continue
				}
				engine.Sweep(sweepCtx)
			}
		}
	}()

	// --- HTTP server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(cfg.Admin.JWTSecret),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", "Lunch service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received")

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Forced shutdown: %v", err))
	}

	log.Info("SERVER", "Server exited gracefully")
}
