package pricing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

// CouponValidator evaluates a coupon against a cart.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.Request) (*coupon.Evaluation, error)
}

// Service quotes orders using the coupon service and the VAT settings store.
type Service struct {
	coupons  CouponValidator
	rates    vat.Store
	fallback vat.RateTable
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates a pricing Service. The fallback table is used when the
// settings store holds no versions.
func NewService(coupons CouponValidator, rates vat.Store, fallback vat.RateTable, tp trace.TracerProvider) *Service {
	return &Service{
		coupons:  coupons,
		rates:    rates,
		fallback: fallback,
		tracer:   tp.Tracer("github.com/xenking/oolio-kart-checkout/internal/domain/pricing"),
		now:      time.Now,
	}
}

// RateTable returns the stored VAT versions, or the fallback table if none
// are stored.
func (s *Service) RateTable(ctx context.Context) (vat.RateTable, error) {
	table, err := s.rates.RateTable(ctx)
	if err != nil {
		return vat.RateTable{}, &coupon.StoreError{Op: "load vat settings", Err: err}
	}
	if table.Len() == 0 {
		return s.fallback, nil
	}
	return table, nil
}

// Settings returns the VAT settings in effect at t.
func (s *Service) Settings(ctx context.Context, at time.Time) (vat.Settings, error) {
	table, err := s.RateTable(ctx)
	if err != nil {
		return vat.Settings{}, err
	}
	return table.At(at), nil
}

// Quote prices in with the VAT settings currently in effect.
func (s *Service) Quote(ctx context.Context, in Input) (*PricedOrder, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.Quote")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load vat settings")
		return nil, err
	}
	return s.quote(ctx, span, in, settings)
}

// QuoteWith prices in against an explicit VAT settings snapshot.
func (s *Service) QuoteWith(ctx context.Context, in Input, settings vat.Settings) (*PricedOrder, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.QuoteWith")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.quote(ctx, span, in, settings)
}

func (s *Service) quote(ctx context.Context, span trace.Span, in Input, settings vat.Settings) (*PricedOrder, error) {
	var ev *coupon.Evaluation
	if in.CouponCode != "" {
		span.SetAttributes(attribute.String("coupon.code", coupon.NormalizeCode(in.CouponCode)))

		var err error
		ev, err = s.coupons.Validate(ctx, coupon.Request{
			Code:        in.CouponCode,
			Items:       in.Items,
			DeliveryFee: in.DeliveryFee,
			UserID:      in.UserID,
		})
		if err != nil {
			if !coupon.IsRejection(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "validate coupon")
			}
			return nil, err
		}
	}

	priced := Assemble(in, ev, settings)
	span.SetAttributes(
		attribute.String("order.grand_total", priced.GrandTotal.String()),
		attribute.String("order.discount", priced.Discount.String()),
	)
	return &priced, nil
}
