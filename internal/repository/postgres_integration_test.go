//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout",
				"POSTGRES_PASSWORD": "checkout",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://checkout:checkout@%s:%s/checkout?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newOrder(id, code, userID string) *order.Order {
	return &order.Order{
		ID:     id,
		UserID: userID,
		Items:  []coupon.Item{{ProductID: "p1", UnitPrice: d("250"), Quantity: 1}},
		Price: pricing.PricedOrder{
			Subtotal:      d("250"),
			DeliveryFee:   d("49"),
			Discount:      d("29.90"),
			GoodsDiscount: d("29.90"),
			Goods:         vat.Breakdown{Gross: d("220.10"), Net: d("205.70"), VAT: d("14.40")},
			Delivery:      vat.Breakdown{Gross: d("49"), Net: d("41.18"), VAT: d("7.82")},
			VATEnabled:    true,
			GrandTotal:    d("269.10"),
		},
		CouponCode: code,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	coupons := NewCouponRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	t.Run("coupon round trip", func(t *testing.T) {
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
			Code:            "save10",
			Type:            coupon.DiscountPercentage,
			Value:           d("10"),
			MaxDiscount:     decimal.NewNullDecimal(d("50")),
			AllowedProducts: []string{"p1"},
			Active:          true,
			StartDate:       &start,
			MaxUsesPerUser:  2,
			Description:     "10% off",
		}))

		c, err := coupons.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", c.Code)
		assert.Equal(t, coupon.ApplyToTotal, c.ApplyTo)
		assert.True(t, d("10").Equal(c.Value))
		assert.False(t, c.MinAmount.Valid)
		assert.True(t, c.MaxDiscount.Valid)
		assert.Equal(t, []string{"p1"}, c.AllowedProducts)
		assert.Empty(t, c.AllowedUsers)
		require.NotNil(t, c.StartDate)
		assert.Equal(t, "2025-01-01", c.StartDate.Format(time.DateOnly))
		assert.Nil(t, c.EndDate)

		_, err = coupons.FindByCode(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrCouponNotFound)
	})

	t.Run("single use coupon under concurrent orders", func(t *testing.T) {
		require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
			Code: "ONCE", Type: coupon.DiscountFixed, Value: d("5"), Active: true, MaxUses: 1,
		}))

		errs := make([]error, 2)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = orders.Create(ctx, newOrder(fmt.Sprintf("once-%d", i), "ONCE", fmt.Sprintf("u%d", i)))
			}()
		}
		close(start)
		wg.Wait()

		var ok, limited int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, coupon.ErrGlobalUsageLimitReached):
				limited++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, limited)

		c, err := coupons.FindByCode(ctx, "ONCE")
		require.NoError(t, err)
		assert.Equal(t, 1, c.UsedCount)
	})

	t.Run("per user limit", func(t *testing.T) {
		require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
			Code: "TWICE", Type: coupon.DiscountFixed, Value: d("5"), Active: true, MaxUsesPerUser: 2,
		}))

		for i := range 2 {
			require.NoError(t, coupons.Redeem(ctx, coupon.Redemption{
				Code: "TWICE", UserID: "alice", OrderID: fmt.Sprintf("twice-%d", i),
			}))
		}
		err := coupons.Redeem(ctx, coupon.Redemption{Code: "TWICE", UserID: "alice", OrderID: "twice-2"})
		require.ErrorIs(t, err, coupon.ErrPerUserUsageLimitReached)

		n, err := coupons.UserRedemptions(ctx, "TWICE", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		c, err := coupons.FindByCode(ctx, "TWICE")
		require.NoError(t, err)
		assert.Equal(t, 2, c.UsedCount, "rejected redemption must roll back the global counter")

		require.NoError(t, coupons.Redeem(ctx, coupon.Redemption{Code: "TWICE", UserID: "bob", OrderID: "twice-bob"}))
	})

	t.Run("redemption is idempotent per order", func(t *testing.T) {
		require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
			Code: "IDEM", Type: coupon.DiscountFixed, Value: d("5"), Active: true,
		}))
		r := coupon.Redemption{Code: "IDEM", UserID: "carol", OrderID: "idem-1"}
		require.NoError(t, coupons.Redeem(ctx, r))
		require.NoError(t, coupons.Redeem(ctx, r))

		c, err := coupons.FindByCode(ctx, "IDEM")
		require.NoError(t, err)
		assert.Equal(t, 1, c.UsedCount)
	})

	t.Run("unknown coupon on redeem", func(t *testing.T) {
		err := coupons.Redeem(ctx, coupon.Redemption{Code: "GHOST", OrderID: "ghost-1"})
		require.ErrorIs(t, err, coupon.ErrCouponNotFound)
	})

	t.Run("orders list between", func(t *testing.T) {
		o := newOrder("listed", "", "dave")
		require.NoError(t, orders.Create(ctx, o))

		got, err := orders.ListBetween(ctx, o.CreatedAt, o.CreatedAt.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "listed", got[0].ID)
		assert.True(t, d("269.10").Equal(got[0].Price.GrandTotal))
		assert.True(t, d("7.82").Equal(got[0].Price.Delivery.VAT))
		require.Len(t, got[0].Items, 1)
		assert.Equal(t, "p1", got[0].Items[0].ProductID)
	})

	t.Run("vat settings", func(t *testing.T) {
		repo := NewVATRepository(pool)
		jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Upsert(ctx, vat.Settings{
			Enabled: true, RateStandard: d("0.19"), RateReduced: d("0.07"), PriceInclusive: true, EffectiveFrom: jan,
		}))

		table, err := repo.RateTable(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, table.Len())
		assert.True(t, d("0.07").Equal(table.At(jan.AddDate(0, 1, 0)).RateReduced))
	})

	t.Run("api keys", func(t *testing.T) {
		repo := NewAPIKeyRepository(pool)
		hash := auth.HashKey([]byte("pepper"), "secret")
		require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
			ID: "default", KeyHash: hash, Name: "Default", Scopes: []string{auth.ScopeCreateOrder},
		}))

		info, err := repo.FindByHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, "default", info.ID)

		_, err = repo.FindByHash(ctx, "unknown")
		require.ErrorIs(t, err, auth.ErrKeyNotFound)
	})
}
