package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`

	upsertOptionSQL = `INSERT INTO options (product_id, name, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, name) DO UPDATE SET quantity = EXCLUDED.quantity
		RETURNING id`

	upsertMemberSQL = `INSERT INTO members (email, notify_token) VALUES ($1, $2)
		ON CONFLICT ((lower(email))) DO UPDATE SET notify_token = EXCLUDED.notify_token
		RETURNING id, email, points, notify_token`

	syncProductSequenceSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'),
		GREATEST((SELECT max(id) FROM products), 1))`
)

// Seeder writes catalog and member fixtures. It is used by the seed-db
// command and integration tests, never by request handling.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertProduct inserts or updates a product with an explicit ID.
func (s *Seeder) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if _, err := s.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price); err != nil {
		return fmt.Errorf("upserting product %d: %w", p.ID, err)
	}
	return nil
}

// UpsertOption inserts an option or resets the stock of an existing one with
// the same name, and returns its ID.
func (s *Seeder) UpsertOption(ctx context.Context, productID int64, name string, quantity int) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertOptionSQL, productID, name, quantity).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting option %q of product %d: %w", name, productID, err)
	}
	return id, nil
}

// UpsertMember inserts a member with a zero balance, or updates the
// notification token of an existing one. Balances are only changed through
// units of work.
func (s *Seeder) UpsertMember(ctx context.Context, email, notifyToken string) (member.Member, error) {
	var m member.Member
	err := s.pool.QueryRow(ctx, upsertMemberSQL, email, notifyToken).
		Scan(&m.ID, &m.Email, &m.Points, &m.NotifyToken)
	if err != nil {
		return member.Member{}, fmt.Errorf("upserting member %q: %w", email, err)
	}
	return m, nil
}

// SyncSequences moves ID sequences past explicitly inserted IDs.
func (s *Seeder) SyncSequences(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, syncProductSequenceSQL); err != nil {
		return fmt.Errorf("syncing product sequence: %w", err)
	}
	return nil
}
