package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/gift-orders/internal/handler"
	"github.com/xenking/gift-orders/internal/seed"
	"github.com/xenking/gift-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		seedFile    string
		jwtSecret   string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/seed.json", "path to seed JSON file (.gz allowed)")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print a bearer token per seeded member signed with this secret (or GIFT_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of printed tokens; 0 means no expiry")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("GIFT_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, jwtSecret, tokenTTL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile, jwtSecret string, tokenTTL time.Duration) error {
	slog.Info("reading seed file", slog.String("path", seedFile))

	f, err := seed.Load(seedFile)
	if err != nil {
		return errors.Wrap(err, "load seed file")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)
	stats, err := seed.Apply(ctx, f, seeder, postgres.NewUnitOfWork(pool))
	if err != nil {
		return errors.Wrap(err, "apply seed")
	}
	if err := seeder.SyncSequences(ctx); err != nil {
		return errors.Wrap(err, "sync sequences")
	}

	slog.Info("seeded",
		slog.Int("products", stats.Products),
		slog.Int("options", stats.Options),
		slog.Int("members", stats.Members),
	)

	if jwtSecret == "" {
		return nil
	}
	now := time.Now()
	for _, m := range f.Members {
		token, err := handler.SignToken([]byte(jwtSecret), m.Email, tokenTTL, now)
		if err != nil {
			return errors.Wrapf(err, "sign token for %s", m.Email)
		}
		slog.Info("issued token", slog.String("email", m.Email), slog.String("token", token))
	}

	return nil
}
