package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Applies the submission journal schema. When EXPIRE_PENDING_AFTER is set,
// pending submissions older than that duration are also marked expired so
// that rows orphaned by a lost workflow stop showing up as in flight.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting journal migration")

	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	var expireAfter time.Duration
	if v := os.Getenv("EXPIRE_PENDING_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Error("EXPIRE_PENDING_AFTER must be a positive duration", "value", v)
			os.Exit(1)
		}
		expireAfter = d
	}

	// Connect to database
	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("schema applied")

	if expireAfter == 0 {
		return
	}

	store := db.NewStore(dbPool)
	pending, err := store.ListPendingSubmissions(ctx, 10000)
	if err != nil {
		logger.Error("failed to list pending submissions", "error", err)
		os.Exit(1)
	}

	cutoff := time.Now().Add(-expireAfter)
	reason := "expired by migration: no confirmation within " + expireAfter.String()
	expired, errorCount := 0, 0
	for _, s := range pending {
		if s.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := store.UpdateSubmissionStatus(ctx, db.UpdateSubmissionStatusParams{
			Signature: s.Signature,
			Status:    db.StatusExpired,
			Error:     &reason,
		}); err != nil {
			logger.Error("failed to expire submission", "signature", s.Signature, "error", err)
			errorCount++
			continue
		}
		logger.Info("expired submission", "signature", s.Signature, "kind", s.Kind, "created_at", s.CreatedAt)
		expired++
	}

	logger.Info("migration complete",
		"pending", len(pending),
		"expired", expired,
		"errors", errorCount,
	)

	if errorCount > 0 {
		os.Exit(1)
	}
}
