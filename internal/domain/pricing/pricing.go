// Package pricing assembles the payable total of an order from its lines,
// delivery fee, coupon discount and VAT settings.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

// ErrInvalidInput is returned for malformed pricing requests.
var ErrInvalidInput = errors.New("invalid pricing input")

// Input is an order to be priced.
type Input struct {
	Items       []coupon.Item
	DeliveryFee decimal.Decimal
	CouponCode  string
	UserID      string
}

// Validate checks the shape of the input.
func (in Input) Validate() error {
	if len(in.Items) == 0 {
		return errors.Wrap(ErrInvalidInput, "items required")
	}
	for _, item := range in.Items {
		if item.ProductID == "" {
			return errors.Wrap(ErrInvalidInput, "product id required")
		}
		if item.Quantity <= 0 {
			return errors.Wrapf(ErrInvalidInput, "quantity must be greater than 0 for product %s", item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return errors.Wrapf(ErrInvalidInput, "negative price for product %s", item.ProductID)
		}
	}
	if in.DeliveryFee.IsNegative() {
		return errors.Wrap(ErrInvalidInput, "negative delivery fee")
	}
	return nil
}

// PricedOrder is the full price breakdown of an order. All amounts are
// rounded to two decimal places.
type PricedOrder struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal

	// Discount is the coupon discount; GoodsDiscount and DeliveryDiscount
	// show which component it was taken from.
	Discount         decimal.Decimal
	GoodsDiscount    decimal.Decimal
	DeliveryDiscount decimal.Decimal
	CouponCode       string

	Goods    vat.Breakdown
	Delivery vat.Breakdown

	VATEnabled     bool
	PriceInclusive bool
	VATTotal       decimal.Decimal
	GrandTotal     decimal.Decimal
}

// NetTotal is the sum of goods and delivery net amounts.
func (p *PricedOrder) NetTotal() decimal.Decimal {
	return p.Goods.Net.Add(p.Delivery.Net)
}

// Assemble prices in with the optional coupon evaluation ev under settings.
//
// Shipping coupons reduce the delivery fee. Any other discount reduces goods
// first; a total-target discount larger than the goods amount continues onto
// delivery. Neither component drops below zero. Goods are taxed at the
// reduced rate and delivery at the standard rate.
func Assemble(in Input, ev *coupon.Evaluation, settings vat.Settings) PricedOrder {
	subtotal := coupon.ItemsTotal(in.Items)
	fee := in.DeliveryFee

	goodsDiscount, deliveryDiscount := decimal.Zero, decimal.Zero
	var code string
	if ev != nil {
		code = ev.Coupon.Code
		discount := ev.Discount
		if ev.Target.ReducesDelivery() {
			deliveryDiscount = decimal.Min(discount, fee)
		} else {
			goodsDiscount = decimal.Min(discount, subtotal)
			if ev.Target.Kind() == coupon.TargetTotal {
				deliveryDiscount = decimal.Min(discount.Sub(goodsDiscount), fee)
			}
		}
	}

	goods := settings.Goods(subtotal.Sub(goodsDiscount))
	delivery := settings.Delivery(fee.Sub(deliveryDiscount))
	discount := goodsDiscount.Add(deliveryDiscount)

	vatTotal := goods.VAT.Add(delivery.VAT)
	grand := subtotal.Add(fee).Sub(discount).Round(2)
	if settings.Enabled && !settings.PriceInclusive {
		grand = grand.Add(vatTotal)
	}

	return PricedOrder{
		Subtotal:         subtotal.Round(2),
		DeliveryFee:      fee.Round(2),
		Discount:         discount.Round(2),
		GoodsDiscount:    goodsDiscount.Round(2),
		DeliveryDiscount: deliveryDiscount.Round(2),
		CouponCode:       code,
		Goods:            goods,
		Delivery:         delivery,
		VATEnabled:       settings.Enabled,
		PriceInclusive:   settings.PriceInclusive,
		VATTotal:         vatTotal,
		GrandTotal:       grand,
	}
}
