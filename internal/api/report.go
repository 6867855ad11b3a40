package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

// VATReport sums goods and delivery VAT of the orders placed between the
// from and to dates, both inclusive.
func (h *Handler) VATReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDay(q.Get("from"))
	if err != nil {
		handleError(w, r, errors.Wrap(err, "from"))
		return
	}
	to, err := parseDay(q.Get("to"))
	if err != nil {
		handleError(w, r, errors.Wrap(err, "to"))
		return
	}

	rep, err := h.orders.VATReport(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("from", func(e *jx.Encoder) { e.Str(from.Format(time.DateOnly)) })
			e.Field("to", func(e *jx.Encoder) { e.Str(to.Format(time.DateOnly)) })
			e.Field("orders", func(e *jx.Encoder) { e.Int(rep.Orders) })
			e.Field("goods", func(e *jx.Encoder) { encodeBreakdown(e, rep.Goods) })
			e.Field("delivery", func(e *jx.Encoder) { encodeBreakdown(e, rep.Delivery) })
			e.Field("total", func(e *jx.Encoder) { encodeBreakdown(e, rep.Total()) })
		})
	})
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.Wrap(pricing.ErrInvalidInput, "date required")
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(pricing.ErrInvalidInput, "invalid date %q", s)
	}
	return t, nil
}
