// Package api exposes the checkout services over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

// CouponValidator evaluates a coupon against a cart.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.Request) (*coupon.Evaluation, error)
}

// Quoter prices an order without persisting it.
type Quoter interface {
	Quote(ctx context.Context, in pricing.Input) (*pricing.PricedOrder, error)
}

// OrderService places orders and builds VAT reports.
type OrderService interface {
	PlaceOrder(ctx context.Context, in pricing.Input) (*order.Order, error)
	VATReport(ctx context.Context, from, to time.Time) (*order.Report, error)
}

// Authenticator resolves an API key to its identity.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// Handler serves the checkout API.
type Handler struct {
	coupons  CouponValidator
	quotes   Quoter
	orders   OrderService
	auth     Authenticator
	keyLimit func(http.Handler) http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithKeyRateLimit applies mw to authenticated routes after the API key has
// been checked. Pair it with a limiter keyed by APIKeyID.
func WithKeyRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.keyLimit = mw }
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	coupons CouponValidator,
	quotes Quoter,
	orders OrderService,
	authenticator Authenticator,
	opts ...Option,
) *Handler {
	h := &Handler{
		coupons:  coupons,
		quotes:   quotes,
		orders:   orders,
		auth:     authenticator,
		keyLimit: func(next http.Handler) http.Handler { return next },
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the API router. Order placement and reports require an API
// key with the matching scope and share that key's rate budget.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/coupons/validate", h.ValidateCoupon)
	r.Post("/orders/quote", h.QuoteOrder)
	r.With(h.RequireScope(auth.ScopeCreateOrder), h.keyLimit).Post("/orders", h.PlaceOrder)
	r.With(h.RequireScope(auth.ScopeReadReports), h.keyLimit).Get("/reports/vat", h.VATReport)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}
