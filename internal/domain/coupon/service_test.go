package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type mockStore struct {
	coupon   *Coupon
	err      error
	lastCode string
}

func (m *mockStore) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lastCode = code
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, ErrCouponNotFound
	}
	return m.coupon, nil
}

type mockLedger struct {
	userCount  int
	countErr   error
	countCalls int
	redeemErr  error
	redeemed   []Redemption
}

func (m *mockLedger) UserRedemptions(_ context.Context, _, _ string) (int, error) {
	m.countCalls++
	return m.userCount, m.countErr
}

func (m *mockLedger) Redeem(_ context.Context, r Redemption) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, r)
	return nil
}

func newTestService(t *testing.T, store Store, ledger Ledger) *Service {
	t.Helper()
	svc, err := NewService(store, ledger, noop.NewMeterProvider())
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestService_Validate(t *testing.T) {
	items := []Item{{ProductID: "p1", UnitPrice: d("250"), Quantity: 1}}

	tests := []struct {
		name         string
		store        *mockStore
		ledger       *mockLedger
		req          Request
		wantDiscount decimal.Decimal
		wantErr      error
		wantCounted  bool
	}{
		{
			name: "valid code returns discount",
			store: &mockStore{coupon: &Coupon{
				Code: "SAVE10", Type: DiscountPercentage, Value: d("10"), Active: true,
			}},
			ledger:       &mockLedger{},
			req:          Request{Code: "save10", Items: items, DeliveryFee: d("49")},
			wantDiscount: d("29.90"),
		},
		{
			name:    "unknown code",
			store:   &mockStore{},
			ledger:  &mockLedger{},
			req:     Request{Code: "BOGUS", Items: items},
			wantErr: ErrCouponNotFound,
		},
		{
			name:    "store failure is not a rejection",
			store:   &mockStore{err: errors.New("connection refused")},
			ledger:  &mockLedger{},
			req:     Request{Code: "SAVE10", Items: items},
			wantErr: ErrStoreUnavailable,
		},
		{
			name: "per-user history looked up when limited",
			store: &mockStore{coupon: &Coupon{
				Code: "ONCE", Type: DiscountFixed, Value: d("5"), Active: true, MaxUsesPerUser: 1,
			}},
			ledger:      &mockLedger{userCount: 1},
			req:         Request{Code: "ONCE", Items: items, UserID: "u1"},
			wantErr:     ErrPerUserUsageLimitReached,
			wantCounted: true,
		},
		{
			name: "per-user history failure surfaces as store error",
			store: &mockStore{coupon: &Coupon{
				Code: "ONCE", Type: DiscountFixed, Value: d("5"), Active: true, MaxUsesPerUser: 1,
			}},
			ledger:      &mockLedger{countErr: errors.New("timeout")},
			req:         Request{Code: "ONCE", Items: items, UserID: "u1"},
			wantErr:     ErrStoreUnavailable,
			wantCounted: true,
		},
		{
			name: "no history lookup without per-user limit",
			store: &mockStore{coupon: &Coupon{
				Code: "FREE5", Type: DiscountFixed, Value: d("5"), Active: true,
			}},
			ledger:       &mockLedger{countErr: errors.New("must not be called")},
			req:          Request{Code: "FREE5", Items: items, UserID: "u1"},
			wantDiscount: d("5"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.store, tt.ledger)

			got, err := svc.Validate(context.Background(), tt.req)
			assert.Equal(t, tt.wantCounted, tt.ledger.countCalls > 0)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantDiscount.Equal(got.Discount),
				"expected discount %s, got %s", tt.wantDiscount, got.Discount)
		})
	}
}

func TestService_LookupNormalizesCode(t *testing.T) {
	store := &mockStore{coupon: &Coupon{Code: "SAVE10"}}
	svc := newTestService(t, store, &mockLedger{})

	_, err := svc.Lookup(context.Background(), "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", store.lastCode)
}

func TestService_StoreErrorKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	svc := newTestService(t, &mockStore{err: cause}, &mockLedger{})

	_, err := svc.Lookup(context.Background(), "X")

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lookup coupon", se.Op)
	assert.False(t, IsRejection(err))
}

func TestService_CanUse(t *testing.T) {
	c := &Coupon{Code: "LIM", Active: true, MaxUses: 10, UsedCount: 3, MaxUsesPerUser: 2}

	svc := newTestService(t, &mockStore{}, &mockLedger{userCount: 1})
	ok, err := svc.CanUse(context.Background(), c, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	svc = newTestService(t, &mockStore{}, &mockLedger{userCount: 2})
	ok, err = svc.CanUse(context.Background(), c, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	exhausted := &Coupon{Code: "LIM", Active: true, MaxUses: 3, UsedCount: 3}
	ok, err = svc.CanUse(context.Background(), exhausted, "")
	require.NoError(t, err)
	assert.False(t, ok)

	svc = newTestService(t, &mockStore{}, &mockLedger{countErr: errors.New("down")})
	_, err = svc.CanUse(context.Background(), c, "u1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_Redeem(t *testing.T) {
	ledger := &mockLedger{}
	svc := newTestService(t, &mockStore{}, ledger)

	err := svc.Redeem(context.Background(), Redemption{Code: "save10", UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, ledger.redeemed, 1)
	assert.Equal(t, Redemption{Code: "SAVE10", UserID: "u1", OrderID: "o1"}, ledger.redeemed[0])
}

func TestService_RedeemErrors(t *testing.T) {
	svc := newTestService(t, &mockStore{}, &mockLedger{redeemErr: ErrGlobalUsageLimitReached})
	err := svc.Redeem(context.Background(), Redemption{Code: "ONCE", OrderID: "o1"})
	require.ErrorIs(t, err, ErrGlobalUsageLimitReached)
	assert.True(t, IsRejection(err))

	svc = newTestService(t, &mockStore{}, &mockLedger{redeemErr: errors.New("deadlock detected")})
	err = svc.Redeem(context.Background(), Redemption{Code: "ONCE", OrderID: "o1"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestReasonOf(t *testing.T) {
	r, ok := ReasonOf(errors.Wrap(ErrNoEligibleItems, "evaluate"))
	require.True(t, ok)
	assert.Equal(t, ReasonNoEligibleItems, r)

	r, ok = ReasonOf(&StoreError{Op: "x", Err: errors.New("y")})
	require.True(t, ok)
	assert.Equal(t, ReasonStoreUnavailable, r)

	_, ok = ReasonOf(errors.New("other"))
	assert.False(t, ok)
}
