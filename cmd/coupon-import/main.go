// Command coupon-import loads generated single-use coupon codes from gzip
// batch files. Codes found in more than one batch are reported and skipped.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/repository"
)

func main() {
	var (
		pattern     string
		databaseURL string
		dryRun      bool
		capacity    uint
		rule        ruleFlags
	)

	flag.StringVar(&pattern, "files", "data/batch*.gz", "glob of gzip batch files, one code per line")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "report duplicates without writing")
	flag.UintVar(&capacity, "capacity", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.StringVar(&rule.discountType, "type", string(coupon.DiscountPercentage), "discount type: PERCENTAGE or FIXED")
	flag.StringVar(&rule.value, "value", "10", "discount value")
	flag.StringVar(&rule.minAmount, "min-amount", "", "minimum order total")
	flag.StringVar(&rule.applyTo, "apply-to", string(coupon.ApplyToTotal), "total, items or shipping")
	flag.IntVar(&rule.maxUses, "max-uses", 1, "redemptions allowed per code, 0 for unlimited")
	flag.StringVar(&rule.endDate, "end-date", "", "last valid day, YYYY-MM-DD")
	flag.StringVar(&rule.description, "description", "Imported promo code", "coupon description")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, dryRun, capacity, rule); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

type ruleFlags struct {
	discountType string
	value        string
	minAmount    string
	applyTo      string
	maxUses      int
	endDate      string
	description  string
}

// template builds the coupon every imported code is stamped with.
func (f ruleFlags) template() (coupon.Coupon, error) {
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "value")
	}
	c := coupon.Coupon{
		Code:        "TEMPLATE",
		Type:        coupon.DiscountType(f.discountType),
		Value:       value,
		ApplyTo:     coupon.ApplyTo(f.applyTo),
		Active:      true,
		MaxUses:     f.maxUses,
		Description: f.description,
	}
	if f.minAmount != "" {
		minAmount, err := decimal.NewFromString(f.minAmount)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "min amount")
		}
		c.MinAmount = decimal.NewNullDecimal(minAmount)
	}
	if f.endDate != "" {
		end, err := time.Parse(time.DateOnly, f.endDate)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "end date")
		}
		c.EndDate = &end
	}
	if err := c.Check(); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

func run(ctx context.Context, pattern, databaseURL string, dryRun bool, capacity uint, rule ruleFlags) error {
	tmpl, err := rule.template()
	if err != nil {
		return errors.Wrap(err, "coupon rule")
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob batch files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}
	if len(files) > maxFiles {
		return errors.Errorf("%d files exceed the limit of %d", len(files), maxFiles)
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, files, capacity)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding codes shared between batches")
	dups, err := findDuplicates(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find duplicates")
	}
	slog.Info("duplicate codes found", slog.Int("count", len(dups)))

	if dryRun {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("pass 3: writing coupons")
	written, err := writeCoupons(ctx, repository.NewCouponRepository(pool), files, dups, tmpl)
	if err != nil {
		return errors.Wrap(err, "write coupons")
	}
	slog.Info("coupons written", slog.Int("count", written))
	return nil
}
