package api

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Money fields are compared as numbers by gte/lte tags.
	v.RegisterCustomTypeFunc(func(v reflect.Value) any {
		f, _ := v.Interface().(decimal.Decimal).Float64()
		return f
	}, decimal.Decimal{})
	return v
}

type lineItemRequest struct {
	ProductID string          `json:"productId" validate:"required,max=128"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gt=0,lte=10000"`
}

// checkoutRequest is the body shared by coupon validation and order
// endpoints. The coupon code is read from either "code" or "couponCode".
type checkoutRequest struct {
	Code        string            `json:"code" validate:"max=64"`
	LineItems   []lineItemRequest `json:"lineItems" validate:"required,min=1,max=500,dive"`
	DeliveryFee decimal.Decimal   `json:"deliveryFee" validate:"gte=0"`
	UserID      string            `json:"userId" validate:"max=128"`
}

func (req *checkoutRequest) input() pricing.Input {
	items := make([]coupon.Item, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = coupon.Item{ProductID: li.ProductID, UnitPrice: li.Price, Quantity: li.Quantity}
	}
	return pricing.Input{
		Items:       items,
		DeliveryFee: req.DeliveryFee,
		CouponCode:  req.Code,
		UserID:      req.UserID,
	}
}

// readCheckout decodes and validates a checkout body. Errors wrap
// pricing.ErrInvalidInput.
func readCheckout(r io.Reader) (*checkoutRequest, error) {
	req, err := decodeCheckout(jx.Decode(io.LimitReader(r, maxBodySize), 4096))
	if err != nil {
		return nil, errors.Wrap(pricing.ErrInvalidInput, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return nil, errors.Wrap(pricing.ErrInvalidInput, describeValidation(err))
	}
	return req, nil
}

func decodeCheckout(d *jx.Decoder) (*checkoutRequest, error) {
	var req checkoutRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code", "couponCode":
			req.Code, err = decodeOptString(d)
		case "lineItems":
			err = d.Arr(func(d *jx.Decoder) error {
				li, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				req.LineItems = append(req.LineItems, li)
				return nil
			})
		case "deliveryFee":
			req.DeliveryFee, err = decodeDecimal(d)
		case "userId":
			req.UserID, err = decodeOptString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode request")
	}
	return &req, nil
}

func decodeLineItem(d *jx.Decoder) (lineItemRequest, error) {
	var li lineItemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			li.ProductID, err = d.Str()
		case "price":
			li.Price, err = decodeDecimal(d)
		case "quantity":
			li.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return li, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Decimal{}, errors.Errorf("expected number, got %s", d.Next())
	}
}

func decodeOptString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "checkoutRequest.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
