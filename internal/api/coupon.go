package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

// ValidateCoupon checks a coupon against a cart and reports the discount it
// would grant, or why it cannot be used.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := readCheckout(r.Body)
	if err == nil && req.Code == "" {
		err = errors.Wrap(pricing.ErrInvalidInput, "code: failed required")
	}
	if err != nil {
		writeInvalidCoupon(w, r, err)
		return
	}

	in := req.input()
	ev, err := h.coupons.Validate(r.Context(), coupon.Request{
		Code:        in.CouponCode,
		Items:       in.Items,
		DeliveryFee: in.DeliveryFee,
		UserID:      in.UserID,
	})
	if err != nil {
		writeInvalidCoupon(w, r, err)
		return
	}

	c := ev.Coupon
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
			e.Field("discount", func(e *jx.Encoder) { money(e, ev.Discount) })
			e.Field("baseAmount", func(e *jx.Encoder) { money(e, ev.BaseAmount) })
			e.Field("appliesTo", func(e *jx.Encoder) { e.Str(ev.Target.Kind().String()) })
			e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
			e.Field("value", func(e *jx.Encoder) { e.Raw([]byte(c.Value.String())) })
			e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
			e.Field("maxUses", func(e *jx.Encoder) { e.Int(c.MaxUses) })
			e.Field("maxUsesPerUser", func(e *jx.Encoder) { e.Int(c.MaxUsesPerUser) })
			if c.Description != "" {
				e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
			}
		})
	})
}

func writeInvalidCoupon(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	logError(r, status, err)
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(false) })
			e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
			e.Field("message", func(e *jx.Encoder) { e.Str(errorMessage(status, err)) })
		})
	})
}
