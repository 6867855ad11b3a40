package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, min_amount, max_discount,
		apply_to, allowed_products, allowed_users, active, start_date, end_date,
		max_uses, used_count, max_uses_per_user, description
		FROM coupons WHERE code = $1`

	getUserUsageSQL = `SELECT uses FROM coupon_user_usage WHERE code = $1 AND user_id = $2`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (code, user_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id`

	incrementUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (max_uses = 0 OR used_count < max_uses)
		RETURNING max_uses_per_user`

	incrementUserUsageSQL = `INSERT INTO coupon_user_usage AS u (code, user_id, uses)
		VALUES ($1, $2, 1)
		ON CONFLICT (code, user_id) DO UPDATE SET uses = u.uses + 1
		WHERE $3 = 0 OR u.uses < $3
		RETURNING u.uses`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_amount, max_discount,
		apply_to, allowed_products, allowed_users, active, start_date, end_date,
		max_uses, max_uses_per_user, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_amount = EXCLUDED.min_amount,
			max_discount = EXCLUDED.max_discount,
			apply_to = EXCLUDED.apply_to,
			allowed_products = EXCLUDED.allowed_products,
			allowed_users = EXCLUDED.allowed_users,
			active = EXCLUDED.active,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			max_uses = EXCLUDED.max_uses,
			max_uses_per_user = EXCLUDED.max_uses_per_user,
			description = EXCLUDED.description`

	foreignKeyViolation = "23503"
)

var (
	_ coupon.Store  = (*CouponRepository)(nil)
	_ coupon.Ledger = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Store and coupon.Ledger backed by
// PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code. Inactive coupons are
// returned as well so that callers can report why they cannot be used.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// UserRedemptions returns how many times userID redeemed code.
func (r *CouponRepository) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	var uses int
	err := r.pool.QueryRow(ctx, getUserUsageSQL, code, userID).Scan(&uses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting redemptions of %q by %q: %w", code, userID, err)
	}
	return uses, nil
}

// Redeem records a redemption in its own transaction.
func (r *CouponRepository) Redeem(ctx context.Context, red coupon.Redemption) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return redeem(ctx, tx, red)
	})
}

// redeem records the usage and bumps the global and per-user counters, each
// guarded by its limit. A redemption already recorded for the order is a
// no-op. Any rejection leaves the transaction to be rolled back.
func redeem(ctx context.Context, tx pgx.Tx, red coupon.Redemption) error {
	var id int64
	err := tx.QueryRow(ctx, insertRedemptionSQL, red.Code, red.UserID, red.OrderID).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case isForeignKeyViolation(err):
		return coupon.ErrCouponNotFound
	case err != nil:
		return fmt.Errorf("recording redemption of %q: %w", red.Code, err)
	}

	var maxPerUser int
	if err := tx.QueryRow(ctx, incrementUsedCountSQL, red.Code).Scan(&maxPerUser); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrGlobalUsageLimitReached
		}
		return fmt.Errorf("incrementing uses of %q: %w", red.Code, err)
	}

	if red.UserID == "" {
		return nil
	}
	var uses int
	if err := tx.QueryRow(ctx, incrementUserUsageSQL, red.Code, red.UserID, maxPerUser).Scan(&uses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrPerUserUsageLimitReached
		}
		return fmt.Errorf("incrementing uses of %q by %q: %w", red.Code, red.UserID, err)
	}
	return nil
}

// Upsert creates or replaces a coupon definition. Usage counters are kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, upsertArgs(c)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertBatch upserts coupons in a single round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for i := range coupons {
		batch.Queue(upsertCouponSQL, upsertArgs(&coupons[i])...)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func upsertArgs(c *coupon.Coupon) []any {
	applyTo := c.ApplyTo
	if applyTo == "" {
		applyTo = coupon.ApplyToTotal
	}
	return []any{
		coupon.NormalizeCode(c.Code), string(c.Type), c.Value, c.MinAmount, c.MaxDiscount,
		string(applyTo), nonNil(c.AllowedProducts), nonNil(c.AllowedUsers), c.Active,
		c.StartDate, c.EndDate, c.MaxUses, c.MaxUsesPerUser, c.Description,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		applyTo      string
		startDate    *time.Time
		endDate      *time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &c.MinAmount, &c.MaxDiscount,
		&applyTo, &c.AllowedProducts, &c.AllowedUsers, &c.Active, &startDate, &endDate,
		&c.MaxUses, &c.UsedCount, &c.MaxUsesPerUser, &c.Description,
	)
	c.Type = coupon.DiscountType(discountType)
	c.ApplyTo = coupon.ApplyTo(applyTo)
	c.StartDate = startDate
	c.EndDate = endDate
	return c, err
}
