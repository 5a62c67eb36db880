package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/riteshkumar/digilinex-transfers/internal/config"
	"github.com/riteshkumar/digilinex-transfers/internal/migration"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	batchSize := flag.Int("batch-size", 0, "writes per atomic unit (default from config, max 500)")
	dryRun := flag.Bool("dry-run", false, "normalize and report without writing")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *batchSize != 0 {
		cfg.Migration.BatchSize = *batchSize
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -batch-size: %v\n", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	db, err := sqlx.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database connection", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrator := migration.NewMigrator(
		repository.NewTxManager(db),
		repository.NewLegacyWalletRepository(db),
		cfg.Migration.BatchSize,
		logger,
		migration.WithDryRun(*dryRun),
	)

	report, err := migrator.Run(ctx)
	if report != nil {
		for _, item := range report.Items {
			if item.Err != nil {
				fmt.Printf("%s\t%s\t%v\n", item.UserID, item.Status, item.Err)
				continue
			}
			fmt.Printf("%s\t%s\n", item.UserID, item.Status)
		}
		fmt.Printf("migrated=%d failed=%d dry_run=%t\n", report.Migrated, report.Failed, *dryRun)
	}
	if err != nil {
		logger.Error("wallet migration incomplete", "error", err.Error())
		os.Exit(1)
	}
}
