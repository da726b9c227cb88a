package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gift-orders/internal/domain/order"
)

const (
	countOrdersByMemberSQL = `SELECT count(*) FROM orders WHERE member_id = $1`

	listOrdersByMemberSQL = `SELECT id, option_id, member_id, quantity, message, charged, created_at
		FROM orders WHERE member_id = $1
		ORDER BY id DESC LIMIT $2 OFFSET $3`
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

// ListByMember returns one page of the member's orders, newest first.
func (r *OrderRepository) ListByMember(ctx context.Context, memberID int64, page order.Page) (*order.List, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersByMemberSQL, memberID).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders of member %d: %w", memberID, err)
	}

	list := &order.List{Page: page, Total: total, Orders: []order.Order{}}
	if page.Offset() >= total {
		return list, nil
	}

	rows, err := r.pool.Query(ctx, listOrdersByMemberSQL, memberID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("listing orders of member %d: %w", memberID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of member %d: %w", memberID, err)
	}
	list.Orders = orders
	return list, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.OptionID, &o.MemberID, &o.Quantity, &o.Message, &o.Charged, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}
