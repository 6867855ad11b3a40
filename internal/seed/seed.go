// Package seed loads coupon, VAT and API key fixtures from YAML.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

// File is the YAML seed document.
type File struct {
	Coupons []Coupon `yaml:"coupons"`
	VAT     []VAT    `yaml:"vat"`
	APIKeys []APIKey `yaml:"apiKeys"`
}

// Coupon is a coupon definition. Amounts are strings to keep them exact.
type Coupon struct {
	Code            string   `yaml:"code"`
	Type            string   `yaml:"type"`
	Value           string   `yaml:"value"`
	MinAmount       string   `yaml:"minAmount"`
	MaxDiscount     string   `yaml:"maxDiscount"`
	ApplyTo         string   `yaml:"applyTo"`
	AllowedProducts []string `yaml:"allowedProducts"`
	AllowedUsers    []string `yaml:"allowedUsers"`
	Active          *bool    `yaml:"active"`
	StartDate       string   `yaml:"startDate"`
	EndDate         string   `yaml:"endDate"`
	MaxUses         int      `yaml:"maxUses"`
	MaxUsesPerUser  int      `yaml:"maxUsesPerUser"`
	Description     string   `yaml:"description"`
}

// VAT is one version of the rate table.
type VAT struct {
	EffectiveFrom  string `yaml:"effectiveFrom"`
	Enabled        bool   `yaml:"enabled"`
	RateStandard   string `yaml:"rateStandard"`
	RateReduced    string `yaml:"rateReduced"`
	PriceInclusive bool   `yaml:"priceInclusive"`
}

// APIKey holds a plaintext key; only its hash is stored.
type APIKey struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Key    string   `yaml:"key"`
	Scopes []string `yaml:"scopes"`
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return &f, nil
}

// Domain converts the definition and checks it.
func (c Coupon) Domain() (coupon.Coupon, error) {
	out := coupon.Coupon{
		Code:            coupon.NormalizeCode(c.Code),
		Type:            coupon.DiscountType(c.Type),
		ApplyTo:         coupon.ApplyTo(c.ApplyTo),
		AllowedProducts: c.AllowedProducts,
		AllowedUsers:    c.AllowedUsers,
		Active:          c.Active == nil || *c.Active,
		MaxUses:         c.MaxUses,
		MaxUsesPerUser:  c.MaxUsesPerUser,
		Description:     c.Description,
	}
	var err error
	if out.Value, err = decimal.NewFromString(c.Value); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: value", c.Code)
	}
	if out.MinAmount, err = optDecimal(c.MinAmount); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: minAmount", c.Code)
	}
	if out.MaxDiscount, err = optDecimal(c.MaxDiscount); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: maxDiscount", c.Code)
	}
	if out.StartDate, err = optDate(c.StartDate); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: startDate", c.Code)
	}
	if out.EndDate, err = optDate(c.EndDate); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: endDate", c.Code)
	}
	if err := out.Check(); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s", c.Code)
	}
	return out, nil
}

// Domain converts the rate version.
func (v VAT) Domain() (vat.Settings, error) {
	from, err := time.Parse(time.DateOnly, v.EffectiveFrom)
	if err != nil {
		return vat.Settings{}, errors.Wrap(err, "vat effectiveFrom")
	}
	standard, err := vat.ParseRate(v.RateStandard)
	if err != nil {
		return vat.Settings{}, errors.Wrapf(err, "vat %s: rateStandard", v.EffectiveFrom)
	}
	reduced, err := vat.ParseRate(v.RateReduced)
	if err != nil {
		return vat.Settings{}, errors.Wrapf(err, "vat %s: rateReduced", v.EffectiveFrom)
	}
	return vat.Settings{
		Enabled:        v.Enabled,
		RateStandard:   standard,
		RateReduced:    reduced,
		PriceInclusive: v.PriceInclusive,
		EffectiveFrom:  from,
	}, nil
}

// Domain hashes the key with pepper.
func (k APIKey) Domain(pepper []byte) (auth.APIKeyInfo, error) {
	if k.ID == "" || k.Key == "" {
		return auth.APIKeyInfo{}, errors.New("api key id and key are required")
	}
	return auth.APIKeyInfo{
		ID:      k.ID,
		KeyHash: auth.HashKey(pepper, k.Key),
		Name:    k.Name,
		Scopes:  k.Scopes,
	}, nil
}

func optDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func optDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Target receives converted fixtures.
type Target struct {
	Coupon func(ctx context.Context, c *coupon.Coupon) error
	VAT    func(ctx context.Context, s vat.Settings) error
	APIKey func(ctx context.Context, info auth.APIKeyInfo) error
}

// Stats counts applied fixtures.
type Stats struct {
	Coupons int
	VAT     int
	APIKeys int
}

// Apply converts every fixture in f and hands it to t. Conversion errors
// abort before anything is written.
func Apply(ctx context.Context, f *File, pepper []byte, t Target) (Stats, error) {
	coupons := make([]coupon.Coupon, 0, len(f.Coupons))
	for _, c := range f.Coupons {
		dc, err := c.Domain()
		if err != nil {
			return Stats{}, err
		}
		coupons = append(coupons, dc)
	}
	rates := make([]vat.Settings, 0, len(f.VAT))
	for _, v := range f.VAT {
		s, err := v.Domain()
		if err != nil {
			return Stats{}, err
		}
		rates = append(rates, s)
	}
	keys := make([]auth.APIKeyInfo, 0, len(f.APIKeys))
	for _, k := range f.APIKeys {
		info, err := k.Domain(pepper)
		if err != nil {
			return Stats{}, err
		}
		keys = append(keys, info)
	}

	var st Stats
	for i := range coupons {
		if err := t.Coupon(ctx, &coupons[i]); err != nil {
			return st, errors.Wrapf(err, "coupon %s", coupons[i].Code)
		}
		st.Coupons++
	}
	for _, s := range rates {
		if err := t.VAT(ctx, s); err != nil {
			return st, errors.Wrapf(err, "vat %s", s.EffectiveFrom.Format(time.DateOnly))
		}
		st.VAT++
	}
	for _, k := range keys {
		if err := t.APIKey(ctx, k); err != nil {
			return st, errors.Wrapf(err, "api key %s", k.ID)
		}
		st.APIKeys++
	}
	return st, nil
}
