package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

// Order represents a completed customer order with its price breakdown.
type Order struct {
	ID         string
	UserID     string
	Items      []coupon.Item
	Price      pricing.PricedOrder
	CouponCode string
	CreatedAt  time.Time
}

// GoodsAmount is the goods amount after discount, as taxed.
func (o *Order) GoodsAmount() decimal.Decimal {
	return o.Price.Subtotal.Sub(o.Price.GoodsDiscount)
}

// DeliveryAmount is the delivery fee after discount, as taxed.
func (o *Order) DeliveryAmount() decimal.Decimal {
	return o.Price.DeliveryFee.Sub(o.Price.DeliveryDiscount)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order. When CouponCode is set the coupon is redeemed
	// in the same transaction: the global and per-user limits are re-checked
	// and coupon.ErrGlobalUsageLimitReached or
	// coupon.ErrPerUserUsageLimitReached is returned, with nothing persisted,
	// if they no longer allow it.
	Create(ctx context.Context, order *Order) error
	// ListBetween returns orders created in [from, to).
	ListBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}
