// Command seed-db loads coupons, VAT rates and API keys from a YAML seed file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-checkout/db"
	"github.com/xenking/oolio-kart-checkout/internal/repository"
	"github.com/xenking/oolio-kart-checkout/internal/seed"
)

func main() {
	var (
		databaseURL  string
		seedFile     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "", "path to a YAML seed file (default: embedded db/seed/checkout.yaml)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile, pepper string) error {
	data := db.Seed
	if seedFile != "" {
		slog.Info("reading seed file", slog.String("path", seedFile))
		var err error
		if data, err = os.ReadFile(seedFile); err != nil {
			return errors.Wrap(err, "read seed file")
		}
	}
	f, err := seed.Parse(data)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	st, err := seed.Apply(ctx, f, []byte(pepper), seed.Postgres(pool))
	if err != nil {
		return errors.Wrap(err, "apply seed")
	}
	slog.Info("seeded",
		slog.Int("coupons", st.Coupons),
		slog.Int("vat_versions", st.VAT),
		slog.Int("api_keys", st.APIKeys),
	)
	return nil
}
