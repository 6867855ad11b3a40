package seed

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
	"github.com/xenking/oolio-kart-checkout/internal/repository"
	"github.com/xenking/oolio-kart-checkout/internal/repository/memory"
)

// Postgres writes fixtures through the repository upserts.
func Postgres(pool *pgxpool.Pool) Target {
	coupons := repository.NewCouponRepository(pool)
	rates := repository.NewVATRepository(pool)
	keys := repository.NewAPIKeyRepository(pool)
	return Target{
		Coupon: coupons.Upsert,
		VAT:    rates.Upsert,
		APIKey: keys.Upsert,
	}
}

// Memory writes fixtures into an in-memory store.
func Memory(s *memory.Store) Target {
	return Target{
		Coupon: func(_ context.Context, c *coupon.Coupon) error {
			s.PutCoupon(*c)
			return nil
		},
		VAT: func(_ context.Context, v vat.Settings) error {
			s.PutVATSettings(v)
			return nil
		},
		APIKey: func(_ context.Context, info auth.APIKeyInfo) error {
			s.PutAPIKey(info)
			return nil
		},
	}
}
