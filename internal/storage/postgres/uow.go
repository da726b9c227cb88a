package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
)

const (
	// Only the option row is locked; the product row is read at its latest
	// committed state.
	lockOptionSQL = `SELECT o.id, o.name, o.quantity, p.id, p.name, p.price
		FROM options o JOIN products p ON p.id = o.product_id
		WHERE o.id = $1
		FOR UPDATE OF o`

	lockMemberSQL = `SELECT id, email, points, notify_token
		FROM members WHERE id = $1 FOR UPDATE`

	updateOptionQuantitySQL = `UPDATE options SET quantity = $2 WHERE id = $1`

	updateMemberPointsSQL = `UPDATE members SET points = $2 WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (option_id, member_id, quantity, message, charged)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
)

var _ order.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs order fulfillment inside a single PostgreSQL transaction.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork returns a UnitOfWork that uses the given pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Do begins a READ COMMITTED transaction, runs fn and commits when fn
// returns nil. Otherwise the transaction is rolled back and fn's error is
// returned unchanged.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	// Rollback after a successful commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockOption(ctx context.Context, id int64) (catalog.Option, error) {
	rows, err := t.tx.Query(ctx, lockOptionSQL, id)
	if err != nil {
		return catalog.Option{}, fmt.Errorf("locking option %d: %w", id, err)
	}
	opt, err := pgx.CollectExactlyOneRow(rows, scanOption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Option{}, &catalog.OptionNotFoundError{OptionID: id}
		}
		return catalog.Option{}, fmt.Errorf("locking option %d: %w", id, err)
	}
	return opt, nil
}

func (t *pgTx) LockMember(ctx context.Context, id int64) (member.Member, error) {
	rows, err := t.tx.Query(ctx, lockMemberSQL, id)
	if err != nil {
		return member.Member{}, fmt.Errorf("locking member %d: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return member.Member{}, member.ErrNotFound
		}
		return member.Member{}, fmt.Errorf("locking member %d: %w", id, err)
	}
	return m, nil
}

func (t *pgTx) SaveOption(ctx context.Context, opt catalog.Option) error {
	tag, err := t.tx.Exec(ctx, updateOptionQuantitySQL, opt.ID, opt.Quantity)
	if err != nil {
		return fmt.Errorf("updating option %d: %w", opt.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return &catalog.OptionNotFoundError{OptionID: opt.ID}
	}
	return nil
}

func (t *pgTx) SaveMember(ctx context.Context, m member.Member) error {
	tag, err := t.tx.Exec(ctx, updateMemberPointsSQL, m.ID, m.Points)
	if err != nil {
		return fmt.Errorf("updating member %d: %w", m.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return member.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *order.Order) error {
	err := t.tx.QueryRow(ctx, insertOrderSQL,
		o.OptionID, o.MemberID, o.Quantity, o.Message, o.Charged,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return nil
}
