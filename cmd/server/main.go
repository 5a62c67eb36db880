package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/riteshkumar/digilinex-transfers/internal/config"
	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/handler"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
	"github.com/riteshkumar/digilinex-transfers/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Connect to the database
	db, err := connectDB(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database successfully")

	publisher, closePublisher := newPublisher(cfg.Redis, logger)
	defer closePublisher()

	// Initialise repo
	txManager := repository.NewTxManager(db)
	walletRepo := repository.NewWalletRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialise services
	opts := []service.Option{
		service.WithPublisher(publisher),
		service.WithRetrier(service.NewConflictRetrier(
			retrier.WithMaxRetries(cfg.Executor.MaxRetries),
			retrier.WithInitialInterval(cfg.Executor.InitialBackoff),
			retrier.WithMaxInterval(cfg.Executor.MaxBackoff),
		)),
	}
	walletService := service.NewWalletService(walletRepo, auditRepo, logger)
	requestService := service.NewRequestService(txManager, requestRepo, auditRepo, logger, opts...)
	transactionService := service.NewTransactionService(txManager, requestRepo, logger, opts...)
	reversalService := service.NewReversalService(transactionService, requestRepo, cfg.Sweep.StaleAfter, cfg.Sweep.BatchSize, logger)

	// Initialise handlers
	walletHandler := handler.NewWalletHandler(walletService, logger)
	requestHandler := handler.NewRequestHandler(requestService, logger)
	adminHandler := handler.NewAdminHandler(transactionService, reversalService, logger)

	// Setup router
	router := mux.NewRouter()

	// Register routes
	walletHandler.RegisterRoutes(router)
	requestHandler.RegisterRoutes(router)
	adminHandler.RegisterRoutes(router)

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Sweep.Interval > 0 {
		logger.Info("stale sweep enabled",
			"interval", cfg.Sweep.Interval.String(),
			"stale_after", cfg.Sweep.StaleAfter.String(),
		)
		go reversalService.Run(sweepCtx, cfg.Sweep.Interval)
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server on port " + cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	stopSweep()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Confirm connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// newPublisher connects to Redis when an address is configured. Without one
// events are dropped.
func newPublisher(cfg config.RedisConfig, logger *slog.Logger) (events.Publisher, func()) {
	if cfg.Addr == "" {
		logger.Info("redis not configured, request events disabled")
		return events.NoopPublisher{}, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup",
			"addr", cfg.Addr,
			"error", err.Error(),
		)
	}

	logger.Info("publishing request events", "addr", cfg.Addr, "channel", cfg.Channel)
	return events.NewRedisPublisher(rdb, cfg.Channel), func() { rdb.Close() }
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
