// Package cache adds a Redis read-through cache in front of the coupon store.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
)

const keyPrefix = "checkout:coupon:"

var _ coupon.Store = (*Coupons)(nil)

// Coupons caches coupon definitions in Redis for ttl. Counters in a cached
// entry may lag behind the database; redemptions re-check the limits and
// evict the entry.
type Coupons struct {
	next   coupon.Store
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCoupons wraps next with a cache backed by client.
func NewCoupons(next coupon.Store, client redis.UniversalClient, ttl time.Duration) *Coupons {
	return &Coupons{next: next, client: client, ttl: ttl}
}

func key(code string) string { return keyPrefix + code }

// FindByCode serves from Redis when possible and populates it on a miss.
// Redis failures degrade to reading next directly.
func (c *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, key(code)).Bytes()
	switch {
	case err == nil:
		cp, err := decodeCoupon(data)
		if err == nil {
			return cp, nil
		}
		lg.Warn("Discarding malformed cached coupon", zap.String("code", code), zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("code", code), zap.Error(err))
	}

	cp, err := c.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key(code), encodeCoupon(cp), c.ttl).Err(); err != nil {
		lg.Warn("Coupon cache write failed", zap.String("code", code), zap.Error(err))
	}
	return cp, nil
}

// Invalidate evicts code from the cache.
func (c *Coupons) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, key(code)).Err(); err != nil {
		return errors.Wrapf(err, "evict coupon %s", code)
	}
	return nil
}

// ObserveRedemption evicts the redeemed coupon so the next read sees fresh
// counters.
func (c *Coupons) ObserveRedemption(ctx context.Context, code string) {
	code = coupon.NormalizeCode(code)
	if err := c.Invalidate(ctx, code); err != nil {
		zctx.From(ctx).Warn("Coupon cache eviction failed", zap.String("code", code), zap.Error(err))
	}
}

func encodeCoupon(c *coupon.Coupon) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { e.Str(c.Value.String()) })
		e.Field("min_amount", func(e *jx.Encoder) { encodeNullDecimal(e, c.MinAmount) })
		e.Field("max_discount", func(e *jx.Encoder) { encodeNullDecimal(e, c.MaxDiscount) })
		e.Field("apply_to", func(e *jx.Encoder) { e.Str(string(c.ApplyTo)) })
		e.Field("allowed_products", func(e *jx.Encoder) { encodeStrings(e, c.AllowedProducts) })
		e.Field("allowed_users", func(e *jx.Encoder) { encodeStrings(e, c.AllowedUsers) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
		e.Field("start_date", func(e *jx.Encoder) { encodeTime(e, c.StartDate) })
		e.Field("end_date", func(e *jx.Encoder) { encodeTime(e, c.EndDate) })
		e.Field("max_uses", func(e *jx.Encoder) { e.Int(c.MaxUses) })
		e.Field("used_count", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("max_uses_per_user", func(e *jx.Encoder) { e.Int(c.MaxUsesPerUser) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
	})
	return e.Bytes()
}

func encodeNullDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	e.Str(v.Decimal.String())
}

func encodeStrings(e *jx.Encoder, s []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range s {
			e.Str(v)
		}
	})
}

func encodeTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.Format(time.RFC3339Nano))
}

func decodeCoupon(data []byte) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, k string) error {
		var err error
		switch k {
		case "code":
			c.Code, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			c.Type = coupon.DiscountType(s)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "min_amount":
			c.MinAmount, err = decodeNullDecimal(d)
		case "max_discount":
			c.MaxDiscount, err = decodeNullDecimal(d)
		case "apply_to":
			var s string
			s, err = d.Str()
			c.ApplyTo = coupon.ApplyTo(s)
		case "allowed_products":
			c.AllowedProducts, err = decodeStrings(d)
		case "allowed_users":
			c.AllowedUsers, err = decodeStrings(d)
		case "active":
			c.Active, err = d.Bool()
		case "start_date":
			c.StartDate, err = decodeTime(d)
		case "end_date":
			c.EndDate, err = decodeTime(d)
		case "max_uses":
			c.MaxUses, err = d.Int()
		case "used_count":
			c.UsedCount, err = d.Int()
		case "max_uses_per_user":
			c.MaxUsesPerUser, err = d.Int()
		case "description":
			c.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, k)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	return &c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}

func decodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
