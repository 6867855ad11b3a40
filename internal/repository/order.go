package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, delivery_fee, discount,
		goods_discount, delivery_discount, goods_gross, goods_net, goods_vat,
		delivery_gross, delivery_net, delivery_vat, vat_enabled, price_inclusive,
		grand_total, coupon_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	listOrdersBetweenSQL = `SELECT id, user_id, items, subtotal, delivery_fee, discount,
		goods_discount, delivery_discount, goods_gross, goods_net, goods_vat,
		delivery_gross, delivery_net, delivery_vat, vat_enabled, price_inclusive,
		grand_total, coupon_code, created_at
		FROM orders WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// itemJSON is the stored form of an order line in the items JSONB column.
type itemJSON struct {
	ProductID string          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Create persists a new order and, when it carries a coupon, redeems the
// coupon in the same transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items := make([]itemJSON, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemJSON{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	p := &o.Price
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, itemsJSON, p.Subtotal, p.DeliveryFee, p.Discount,
			p.GoodsDiscount, p.DeliveryDiscount, p.Goods.Gross, p.Goods.Net, p.Goods.VAT,
			p.Delivery.Gross, p.Delivery.Net, p.Delivery.VAT, p.VATEnabled, p.PriceInclusive,
			p.GrandTotal, o.CouponCode, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		if o.CouponCode == "" {
			return nil
		}
		return redeem(ctx, tx, coupon.Redemption{
			Code:    o.CouponCode,
			UserID:  o.UserID,
			OrderID: o.ID,
		})
	})
}

// ListBetween returns orders created in [from, to), oldest first.
func (r *OrderRepository) ListBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		p         pricing.PricedOrder
		itemsJSON []byte
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &p.Subtotal, &p.DeliveryFee, &p.Discount,
		&p.GoodsDiscount, &p.DeliveryDiscount, &p.Goods.Gross, &p.Goods.Net, &p.Goods.VAT,
		&p.Delivery.Gross, &p.Delivery.Net, &p.Delivery.VAT, &p.VATEnabled, &p.PriceInclusive,
		&p.GrandTotal, &o.CouponCode, &o.CreatedAt,
	); err != nil {
		return order.Order{}, err
	}

	var items []itemJSON
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Items = make([]coupon.Item, len(items))
	for i, it := range items {
		o.Items[i] = coupon.Item{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}

	p.CouponCode = o.CouponCode
	p.VATTotal = p.Goods.VAT.Add(p.Delivery.VAT)
	o.Price = p
	return o, nil
}
