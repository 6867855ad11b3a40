package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

// Pricer quotes orders and exposes the VAT rate history.
type Pricer interface {
	Quote(ctx context.Context, in pricing.Input) (*pricing.PricedOrder, error)
	RateTable(ctx context.Context) (vat.RateTable, error)
}

// RedemptionObserver is notified of redemptions committed with an order.
type RedemptionObserver interface {
	ObserveRedemption(ctx context.Context, code string)
}

// Service encapsulates order placement and reporting.
type Service struct {
	pricer    Pricer
	orders    Repository
	observers []RedemptionObserver
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
// Observers are notified, in order, of every committed redemption.
func NewService(pricer Pricer, orders Repository, observers ...RedemptionObserver) *Service {
	return &Service{
		pricer:    pricer,
		orders:    orders,
		observers: observers,
		now:       time.Now,
	}
}

// PlaceOrder prices the order, persists it and redeems its coupon in one
// step. Coupon rejections, including limits exhausted by a concurrent
// checkout, are returned unchanged.
func (s *Service) PlaceOrder(ctx context.Context, in pricing.Input) (*Order, error) {
	price, err := s.pricer.Quote(ctx, in)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:         uuid.New().String(),
		UserID:     in.UserID,
		Items:      in.Items,
		Price:      *price,
		CouponCode: price.CouponCode,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if coupon.IsRejection(err) || errors.Is(err, coupon.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, &coupon.StoreError{Op: "create order", Err: err}
	}

	if o.CouponCode != "" {
		for _, obs := range s.observers {
			obs.ObserveRedemption(ctx, o.CouponCode)
		}
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("coupon", o.CouponCode),
		zap.String("grand_total", o.Price.GrandTotal.String()),
	)
	return o, nil
}

// Report is the VAT summary of the orders placed in a date range.
type Report struct {
	From     time.Time
	To       time.Time
	Orders   int
	Goods    vat.Breakdown
	Delivery vat.Breakdown
}

// Total sums the goods and delivery brackets.
func (r *Report) Total() vat.Breakdown {
	return r.Goods.Add(r.Delivery)
}

// VATReport re-derives goods and delivery VAT for every order created in
// [from, to) using the rates in effect when each order was created, and sums
// the rounded components.
func (s *Service) VATReport(ctx context.Context, from, to time.Time) (*Report, error) {
	if !from.Before(to) {
		return nil, errors.Wrap(pricing.ErrInvalidInput, "report range is empty")
	}

	orders, err := s.orders.ListBetween(ctx, from, to)
	if err != nil {
		return nil, &coupon.StoreError{Op: "list orders", Err: err}
	}
	table, err := s.pricer.RateTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rate table")
	}

	r := &Report{From: from, To: to, Orders: len(orders)}
	for i := range orders {
		o := &orders[i]
		settings := table.At(o.CreatedAt)
		r.Goods = r.Goods.Add(settings.Goods(o.GoodsAmount()))
		r.Delivery = r.Delivery.Add(settings.Delivery(o.DeliveryAmount()))
	}
	return r, nil
}
