package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

const reasonInvalidRequest = "INVALID_REQUEST"

func writeJSON(w http.ResponseWriter, r *http.Request, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, reason, message string) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

// classify maps a domain error to an HTTP status and a stable reason.
func classify(err error) (int, string) {
	if errors.Is(err, pricing.ErrInvalidInput) {
		return http.StatusBadRequest, reasonInvalidRequest
	}
	reason, ok := coupon.ReasonOf(err)
	switch {
	case !ok:
		return http.StatusInternalServerError, "INTERNAL"
	case reason == coupon.ReasonNotFound:
		return http.StatusNotFound, string(reason)
	case reason == coupon.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable, string(reason)
	default:
		return http.StatusBadRequest, string(reason)
	}
}

// errorMessage hides internals of server-side failures.
func errorMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

// handleError logs and writes err in the common error shape.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	logError(r, status, err)
	writeError(w, r, status, reason, errorMessage(status, err))
}

func logError(r *http.Request, status int, err error) {
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
		return
	}
	lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func encodeBreakdown(e *jx.Encoder, b vat.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("gross", func(e *jx.Encoder) { money(e, b.Gross) })
		e.Field("net", func(e *jx.Encoder) { money(e, b.Net) })
		e.Field("vat", func(e *jx.Encoder) { money(e, b.VAT) })
	})
}

// encodePricedFields writes the fields of p into the enclosing object.
func encodePricedFields(e *jx.Encoder, p *pricing.PricedOrder) {
	e.Field("subtotal", func(e *jx.Encoder) { money(e, p.Subtotal) })
	e.Field("deliveryFee", func(e *jx.Encoder) { money(e, p.DeliveryFee) })
	e.Field("discount", func(e *jx.Encoder) { money(e, p.Discount) })
	e.Field("goodsDiscount", func(e *jx.Encoder) { money(e, p.GoodsDiscount) })
	e.Field("deliveryDiscount", func(e *jx.Encoder) { money(e, p.DeliveryDiscount) })
	if p.CouponCode != "" {
		e.Field("couponCode", func(e *jx.Encoder) { e.Str(p.CouponCode) })
	}
	e.Field("goods", func(e *jx.Encoder) { encodeBreakdown(e, p.Goods) })
	e.Field("delivery", func(e *jx.Encoder) { encodeBreakdown(e, p.Delivery) })
	e.Field("vatEnabled", func(e *jx.Encoder) { e.Bool(p.VATEnabled) })
	e.Field("priceInclusive", func(e *jx.Encoder) { e.Bool(p.PriceInclusive) })
	e.Field("netTotal", func(e *jx.Encoder) { money(e, p.NetTotal()) })
	e.Field("vatTotal", func(e *jx.Encoder) { money(e, p.VATTotal) })
	e.Field("grandTotal", func(e *jx.Encoder) { money(e, p.GrandTotal) })
}
