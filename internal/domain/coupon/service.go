package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Request is the input of a coupon validation.
type Request struct {
	Code        string
	Items       []Item
	DeliveryFee decimal.Decimal
	UserID      string
}

// Service validates coupons against carts and commits redemptions.
//
// Validation only reads counters and takes no locks; the result is re-checked
// by Ledger.Redeem when the order is created.
type Service struct {
	store  Store
	ledger Ledger
	now    func() time.Time

	validations metric.Int64Counter
	rejections  metric.Int64Counter
	redemptions metric.Int64Counter
}

// NewService creates a Service backed by the given store and ledger.
func NewService(store Store, ledger Ledger, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter("github.com/xenking/oolio-kart-checkout/internal/domain/coupon")

	s := &Service{store: store, ledger: ledger, now: time.Now}

	var err error
	if s.validations, err = meter.Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validations attempted"),
	); err != nil {
		return nil, errors.Wrap(err, "validations counter")
	}
	if s.rejections, err = meter.Int64Counter("coupon.rejections",
		metric.WithDescription("Coupon validations rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	if s.redemptions, err = meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemptions committed"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	return s, nil
}

// Lookup fetches a coupon by code. Unknown codes yield ErrCouponNotFound,
// store failures a *StoreError.
func (s *Service) Lookup(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, &StoreError{Op: "lookup coupon", Err: err}
	}
	return c, nil
}

// Validate looks up the coupon, loads the user's redemption count when a
// per-user limit applies and evaluates the coupon against the cart.
func (s *Service) Validate(ctx context.Context, req Request) (*Evaluation, error) {
	s.validations.Add(ctx, 1)

	ev, err := s.validate(ctx, req)
	if err != nil {
		s.observeRejection(ctx, req.Code, err)
		return nil, err
	}
	return ev, nil
}

func (s *Service) validate(ctx context.Context, req Request) (*Evaluation, error) {
	c, err := s.Lookup(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	usage, err := s.usage(ctx, c, req.UserID)
	if err != nil {
		return nil, err
	}

	ev, err := Evaluate(c, req.Items, req.DeliveryFee, usage, s.now())
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// CanUse reports whether the global and per-user limits currently admit a
// redemption by userID. Store failures are returned as errors; exhausted
// limits and allow-list mismatches as false.
func (s *Service) CanUse(ctx context.Context, c *Coupon, userID string) (bool, error) {
	usage, err := s.usage(ctx, c, userID)
	if err != nil {
		return false, err
	}
	if err := CheckUsage(c, usage); err != nil {
		return false, nil
	}
	return true, nil
}

// Redeem commits a redemption through the ledger. It must be called exactly
// once per created order.
func (s *Service) Redeem(ctx context.Context, r Redemption) error {
	r.Code = NormalizeCode(r.Code)
	if err := s.ledger.Redeem(ctx, r); err != nil {
		if IsRejection(err) {
			s.observeRejection(ctx, r.Code, err)
			return err
		}
		return &StoreError{Op: "redeem coupon", Err: err}
	}
	s.observeRedemption(ctx, r.Code)
	return nil
}

// ObserveRedemption records a redemption committed outside Redeem, e.g. as
// part of an order transaction.
func (s *Service) ObserveRedemption(ctx context.Context, code string) {
	s.observeRedemption(ctx, NormalizeCode(code))
}

func (s *Service) observeRedemption(ctx context.Context, code string) {
	s.redemptions.Add(ctx, 1)
	zctx.From(ctx).Info("Coupon redeemed", zap.String("code", code))
}

func (s *Service) usage(ctx context.Context, c *Coupon, userID string) (Usage, error) {
	usage := Usage{UserID: userID}
	if userID == "" || c.MaxUsesPerUser <= 0 {
		return usage, nil
	}
	n, err := s.ledger.UserRedemptions(ctx, c.Code, userID)
	if err != nil {
		return Usage{}, &StoreError{Op: "count user redemptions", Err: err}
	}
	usage.UserRedemptions = n
	return usage, nil
}

func (s *Service) observeRejection(ctx context.Context, code string, err error) {
	lg := zctx.From(ctx)
	reason, ok := ReasonOf(err)
	if !ok {
		lg.Error("Coupon evaluation failed", zap.String("code", code), zap.Error(err))
		return
	}
	s.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	if reason == ReasonStoreUnavailable {
		lg.Warn("Coupon store unavailable", zap.String("code", code), zap.Error(err))
		return
	}
	lg.Debug("Coupon rejected", zap.String("code", code), zap.String("reason", string(reason)))
}
