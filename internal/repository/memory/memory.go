// Package memory provides in-process implementations of the checkout stores.
// A single mutex serializes every redemption, so limit checks and counter
// updates happen as one step.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

var (
	_ coupon.Store     = (*Store)(nil)
	_ coupon.Ledger    = (*Store)(nil)
	_ order.Repository = (*Store)(nil)
	_ vat.Store        = (*Store)(nil)
	_ auth.Repository  = (*Store)(nil)
)

type userKey struct {
	code   string
	userID string
}

// Store keeps coupons, usage counters, orders, VAT settings and API keys in
// memory.
type Store struct {
	mu          sync.Mutex
	coupons     map[string]*coupon.Coupon
	userUsage   map[userKey]int
	redemptions map[string]coupon.Redemption // by order id
	orders      []order.Order
	vat         []vat.Settings
	apiKeys     map[string]auth.APIKeyInfo // by hash
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		coupons:     make(map[string]*coupon.Coupon),
		userUsage:   make(map[userKey]int),
		redemptions: make(map[string]coupon.Redemption),
		apiKeys:     make(map[string]auth.APIKeyInfo),
	}
}

// PutCoupon stores a copy of c under its normalized code. Existing usage
// counters are kept.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Code = coupon.NormalizeCode(c.Code)
	if c.ApplyTo == "" {
		c.ApplyTo = coupon.ApplyToTotal
	}
	if prev, ok := s.coupons[c.Code]; ok {
		c.UsedCount = prev.UsedCount
	}
	s.coupons[c.Code] = &c
}

// PutVATSettings adds or replaces the version effective at s.EffectiveFrom.
func (s *Store) PutVATSettings(v vat.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.vat {
		if s.vat[i].EffectiveFrom.Equal(v.EffectiveFrom) {
			s.vat[i] = v
			return
		}
	}
	s.vat = append(s.vat, v)
}

// PutAPIKey stores info under its KeyHash.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apiKeys[info.KeyHash] = info
}

// FindByCode returns a copy of the coupon stored under code.
func (s *Store) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	cp := *c
	cp.AllowedProducts = slices.Clone(c.AllowedProducts)
	cp.AllowedUsers = slices.Clone(c.AllowedUsers)
	return &cp, nil
}

// UserRedemptions returns how many times userID redeemed code.
func (s *Store) UserRedemptions(_ context.Context, code, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userUsage[userKey{code: code, userID: userID}], nil
}

// Redeem re-checks the limits and records the redemption.
func (s *Store) Redeem(_ context.Context, r coupon.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.redeemLocked(r)
}

func (s *Store) redeemLocked(r coupon.Redemption) error {
	if _, ok := s.redemptions[r.OrderID]; ok {
		return nil
	}
	c, ok := s.coupons[r.Code]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return coupon.ErrGlobalUsageLimitReached
	}
	key := userKey{code: r.Code, userID: r.UserID}
	if r.UserID != "" && c.MaxUsesPerUser > 0 && s.userUsage[key] >= c.MaxUsesPerUser {
		return coupon.ErrPerUserUsageLimitReached
	}

	c.UsedCount++
	if r.UserID != "" {
		s.userUsage[key]++
	}
	s.redemptions[r.OrderID] = r
	return nil
}

// Create stores the order, redeeming its coupon first when it has one.
func (s *Store) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.CouponCode != "" {
		if err := s.redeemLocked(coupon.Redemption{
			Code:    o.CouponCode,
			UserID:  o.UserID,
			OrderID: o.ID,
		}); err != nil {
			return err
		}
	}
	cp := *o
	cp.Items = slices.Clone(o.Items)
	s.orders = append(s.orders, cp)
	return nil
}

// ListBetween returns orders created in [from, to), oldest first.
func (s *Store) ListBetween(_ context.Context, from, to time.Time) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []order.Order
	for _, o := range s.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// RateTable returns the stored VAT versions.
func (s *Store) RateTable(context.Context) (vat.RateTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return vat.NewRateTable(s.vat...), nil
}

// FindByHash looks up an API key by hash.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &info, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
