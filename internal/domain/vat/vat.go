// Package vat splits gross amounts into net and tax components.
package vat

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ParseRate parses a rate fraction and checks it lies in [0, 1).
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse rate %q", s)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(one) {
		return decimal.Decimal{}, errors.Errorf("rate %s out of range [0, 1)", s)
	}
	return r, nil
}

// Settings is one version of the VAT configuration. Rates are fractions,
// e.g. 0.19 for 19%.
type Settings struct {
	Enabled        bool
	RateStandard   decimal.Decimal
	RateReduced    decimal.Decimal
	PriceInclusive bool
	EffectiveFrom  time.Time
}

// Breakdown is a gross amount split into net and tax, each rounded to two
// decimal places independently.
type Breakdown struct {
	Gross decimal.Decimal
	Net   decimal.Decimal
	VAT   decimal.Decimal
}

// Add sums two breakdowns component-wise.
func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		Gross: b.Gross.Add(o.Gross),
		Net:   b.Net.Add(o.Net),
		VAT:   b.VAT.Add(o.VAT),
	}
}

// Decompose splits amount using rate. With inclusive pricing amount already
// contains the tax and is split into net and VAT; otherwise amount is the net
// price and the tax is added on top.
func Decompose(amount, rate decimal.Decimal, inclusive bool) Breakdown {
	if inclusive {
		net := amount.Div(one.Add(rate))
		return Breakdown{
			Gross: amount.Round(2),
			Net:   net.Round(2),
			VAT:   amount.Sub(net).Round(2),
		}
	}
	tax := amount.Mul(rate)
	return Breakdown{
		Gross: amount.Add(tax).Round(2),
		Net:   amount.Round(2),
		VAT:   tax.Round(2),
	}
}

func (s Settings) decompose(amount, rate decimal.Decimal) Breakdown {
	if !s.Enabled {
		a := amount.Round(2)
		return Breakdown{Gross: a, Net: a, VAT: decimal.Zero}
	}
	return Decompose(amount, rate, s.PriceInclusive)
}

// Goods decomposes a goods amount at the reduced rate.
func (s Settings) Goods(amount decimal.Decimal) Breakdown {
	return s.decompose(amount, s.RateReduced)
}

// Delivery decomposes a delivery amount at the standard rate.
func (s Settings) Delivery(amount decimal.Decimal) Breakdown {
	return s.decompose(amount, s.RateStandard)
}

// RateTable holds settings versions ordered by EffectiveFrom.
type RateTable struct {
	versions []Settings
}

// NewRateTable builds a table from versions in any order.
func NewRateTable(versions ...Settings) RateTable {
	v := append([]Settings(nil), versions...)
	sort.SliceStable(v, func(i, j int) bool {
		return v[i].EffectiveFrom.Before(v[j].EffectiveFrom)
	})
	return RateTable{versions: v}
}

// At returns the settings in effect at t: the latest version whose
// EffectiveFrom is not after t. Before the first version the earliest one
// applies. An empty table yields disabled VAT.
func (t RateTable) At(at time.Time) Settings {
	if len(t.versions) == 0 {
		return Settings{}
	}
	i := sort.Search(len(t.versions), func(i int) bool {
		return t.versions[i].EffectiveFrom.After(at)
	})
	if i == 0 {
		return t.versions[0]
	}
	return t.versions[i-1]
}

// Len returns the number of versions.
func (t RateTable) Len() int { return len(t.versions) }

// Store supplies VAT settings.
type Store interface {
	// RateTable returns every known settings version.
	RateTable(ctx context.Context) (RateTable, error)
}
