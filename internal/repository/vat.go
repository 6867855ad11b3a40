package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

const (
	listVATSettingsSQL = `SELECT enabled, rate_standard, rate_reduced, price_inclusive, effective_from
		FROM vat_settings ORDER BY effective_from`

	upsertVATSettingsSQL = `INSERT INTO vat_settings (enabled, rate_standard, rate_reduced, price_inclusive, effective_from)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (effective_from) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			rate_standard = EXCLUDED.rate_standard,
			rate_reduced = EXCLUDED.rate_reduced,
			price_inclusive = EXCLUDED.price_inclusive`
)

var _ vat.Store = (*VATRepository)(nil)

// VATRepository stores versioned VAT settings in PostgreSQL.
type VATRepository struct {
	pool *pgxpool.Pool
}

// NewVATRepository returns a VATRepository that uses the given pool.
func NewVATRepository(pool *pgxpool.Pool) *VATRepository {
	return &VATRepository{pool: pool}
}

// RateTable loads every settings version.
func (r *VATRepository) RateTable(ctx context.Context) (vat.RateTable, error) {
	rows, err := r.pool.Query(ctx, listVATSettingsSQL)
	if err != nil {
		return vat.RateTable{}, fmt.Errorf("listing vat settings: %w", err)
	}
	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vat.Settings, error) {
		var s vat.Settings
		err := row.Scan(&s.Enabled, &s.RateStandard, &s.RateReduced, &s.PriceInclusive, &s.EffectiveFrom)
		return s, err
	})
	if err != nil {
		return vat.RateTable{}, fmt.Errorf("listing vat settings: %w", err)
	}
	return vat.NewRateTable(versions...), nil
}

// Upsert stores a settings version keyed by its EffectiveFrom.
func (r *VATRepository) Upsert(ctx context.Context, s vat.Settings) error {
	if _, err := r.pool.Exec(ctx, upsertVATSettingsSQL,
		s.Enabled, s.RateStandard, s.RateReduced, s.PriceInclusive, s.EffectiveFrom,
	); err != nil {
		return fmt.Errorf("upserting vat settings from %s: %w", s.EffectiveFrom.Format("2006-01-02"), err)
	}
	return nil
}
