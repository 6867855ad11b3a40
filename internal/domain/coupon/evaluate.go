package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Usage is the redemption history of the requesting user, if known.
type Usage struct {
	UserID          string
	UserRedemptions int
}

// HasUser reports whether the request is tied to a user.
func (u Usage) HasUser() bool { return u.UserID != "" }

// Evaluation is the outcome of applying a coupon to a cart.
type Evaluation struct {
	Coupon     *Coupon
	Target     Target
	ItemsTotal decimal.Decimal
	Total      decimal.Decimal
	BaseAmount decimal.Decimal
	Discount   decimal.Decimal
}

// Evaluate validates c against the cart and computes the discount. Money is
// kept at full precision until the end, where Discount and BaseAmount are
// rounded once to two decimal places (half-up for non-negative amounts).
func Evaluate(c *Coupon, items []Item, deliveryFee decimal.Decimal, usage Usage, now time.Time) (Evaluation, error) {
	if err := checkWindow(c, now); err != nil {
		return Evaluation{}, err
	}

	itemsTotal := ItemsTotal(items)
	total := itemsTotal.Add(deliveryFee)

	if c.MinAmount.Valid && total.LessThan(c.MinAmount.Decimal) {
		return Evaluation{}, ErrMinimumAmountNotMet
	}
	if err := CheckUsage(c, usage); err != nil {
		return Evaluation{}, err
	}

	target := c.Target()
	base, err := baseAmount(target, items, itemsTotal, deliveryFee, total)
	if err != nil {
		return Evaluation{}, err
	}

	var discount decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		discount = base.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		discount = c.Value
	default:
		return Evaluation{}, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	if c.MaxDiscount.Valid {
		discount = decimal.Min(discount, c.MaxDiscount.Decimal)
	}
	discount = decimal.Min(discount, base)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Evaluation{
		Coupon:     c,
		Target:     target,
		ItemsTotal: itemsTotal,
		Total:      total,
		BaseAmount: base.Round(2),
		Discount:   discount.Round(2),
	}, nil
}

// CheckUsage applies the global and per-user limits against the counters
// observed at validation time.
func CheckUsage(c *Coupon, usage Usage) error {
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return ErrGlobalUsageLimitReached
	}
	if !usage.HasUser() {
		if len(c.AllowedUsers) > 0 {
			return ErrUserNotAllowed
		}
		return nil
	}
	if !c.AllowsUser(usage.UserID) {
		return ErrUserNotAllowed
	}
	if c.MaxUsesPerUser > 0 && usage.UserRedemptions >= c.MaxUsesPerUser {
		return ErrPerUserUsageLimitReached
	}
	return nil
}

func checkWindow(c *Coupon, now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	loc := now.Location()
	today := civilDay(now, loc)
	if c.StartDate != nil && today.Before(civilDay(*c.StartDate, loc)) {
		return ErrCouponNotYetStarted
	}
	if c.EndDate != nil && today.After(civilDay(*c.EndDate, loc)) {
		return ErrCouponExpired
	}
	return nil
}

// civilDay returns midnight in loc of t's calendar date. The date is taken in
// t's own location, so DATE columns scanned as UTC keep their day.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func baseAmount(target Target, items []Item, itemsTotal, deliveryFee, total decimal.Decimal) (decimal.Decimal, error) {
	switch target.Kind() {
	case TargetShipping:
		return deliveryFee, nil
	case TargetRestricted:
		sum := decimal.Zero
		matched := false
		for _, item := range items {
			if target.Includes(item.ProductID) {
				sum = sum.Add(item.Total())
				matched = true
			}
		}
		if !matched {
			return decimal.Zero, ErrNoEligibleItems
		}
		return sum, nil
	case TargetItems:
		return itemsTotal, nil
	case TargetTotal:
		return total, nil
	default:
		return decimal.Zero, errors.Errorf("unsupported coupon target: %s", target.Kind())
	}
}
