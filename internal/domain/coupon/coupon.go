package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes Value percent of the base amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a flat Value off the base amount.
	DiscountFixed DiscountType = "FIXED"
)

// ApplyTo names the order component a coupon is computed against.
type ApplyTo string

const (
	ApplyToTotal    ApplyTo = "total"
	ApplyToItems    ApplyTo = "items"
	ApplyToShipping ApplyTo = "shipping"
)

// Coupon is a promotional code with its discount rule and usage constraints.
//
// MaxUses and MaxUsesPerUser use zero for "unlimited". StartDate and EndDate
// bound the validity window at day granularity, both ends inclusive.
type Coupon struct {
	Code            string
	Type            DiscountType
	Value           decimal.Decimal
	MinAmount       decimal.NullDecimal
	MaxDiscount     decimal.NullDecimal
	ApplyTo         ApplyTo
	AllowedProducts []string
	AllowedUsers    []string
	Active          bool
	StartDate       *time.Time
	EndDate         *time.Time
	MaxUses         int
	UsedCount       int
	MaxUsesPerUser  int
	Description     string
}

// Target resolves the coupon's base-amount strategy. Shipping wins over a
// product restriction, which in turn wins over items/total.
func (c *Coupon) Target() Target {
	switch {
	case c.ApplyTo == ApplyToShipping:
		return ShippingTarget()
	case len(c.AllowedProducts) > 0:
		return RestrictedTarget(c.AllowedProducts...)
	case c.ApplyTo == ApplyToItems:
		return ItemsTarget()
	default:
		return TotalTarget()
	}
}

// Check reports definition errors: the rules a stored coupon must satisfy
// before it can be evaluated.
func (c *Coupon) Check() error {
	if NormalizeCode(c.Code) == "" {
		return errors.New("code is empty")
	}
	switch c.Type {
	case DiscountPercentage:
		if c.Value.GreaterThan(hundred) {
			return errors.Errorf("percentage %s exceeds 100", c.Value)
		}
	case DiscountFixed:
	default:
		return errors.Errorf("unknown discount type %q", c.Type)
	}
	if c.Value.IsNegative() {
		return errors.New("value is negative")
	}
	switch c.ApplyTo {
	case "", ApplyToTotal, ApplyToItems, ApplyToShipping:
	default:
		return errors.Errorf("unknown apply_to %q", c.ApplyTo)
	}
	if c.MinAmount.Valid && c.MinAmount.Decimal.IsNegative() {
		return errors.New("min amount is negative")
	}
	if c.MaxDiscount.Valid && c.MaxDiscount.Decimal.IsNegative() {
		return errors.New("max discount is negative")
	}
	if c.MaxUses < 0 || c.MaxUsesPerUser < 0 || c.UsedCount < 0 {
		return errors.New("usage limits are negative")
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return errors.New("end date is before start date")
	}
	return nil
}

// AllowsUser reports whether userID may redeem the coupon. An empty
// allow-list admits everyone.
func (c *Coupon) AllowsUser(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Item represents a cart line for discount calculation purposes.
type Item struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns UnitPrice * Quantity.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal returns the sum of all line totals.
func ItemsTotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redemption is a single usage record: one completed order that redeemed a
// coupon.
type Redemption struct {
	Code    string
	UserID  string
	OrderID string
}

// Store provides read access to coupon definitions.
type Store interface {
	// FindByCode returns ErrCouponNotFound when the code is unknown.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Ledger tracks coupon redemptions.
type Ledger interface {
	// UserRedemptions returns how many times userID redeemed code.
	UserRedemptions(ctx context.Context, code, userID string) (int, error)
	// Redeem atomically re-checks the global and per-user limits, bumps the
	// counters and records the usage. It returns ErrGlobalUsageLimitReached or
	// ErrPerUserUsageLimitReached when the limits no longer allow it.
	Redeem(ctx context.Context, r Redemption) error
}
