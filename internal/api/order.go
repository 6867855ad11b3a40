package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
)

// QuoteOrder prices an order without persisting it or redeeming its coupon.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	req, err := readCheckout(r.Body)
	if err != nil {
		handleError(w, r, err)
		return
	}

	p, err := h.quotes.Quote(r.Context(), req.input())
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) { encodePricedFields(e, p) })
	})
}

// PlaceOrder prices and persists an order, redeeming its coupon atomically.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := readCheckout(r.Body)
	if err != nil {
		handleError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req.input())
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			if o.UserID != "" {
				e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
			}
			e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339)) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, it := range o.Items {
						e.Obj(func(e *jx.Encoder) {
							e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
							e.Field("price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						})
					}
				})
			})
			encodePricedFields(e, &o.Price)
		})
	})
}
