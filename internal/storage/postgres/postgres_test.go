//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
	"github.com/xenking/gift-orders/internal/domain/points"
	"github.com/xenking/gift-orders/internal/domain/stock"
)

type nopNotifier struct{}

func (nopNotifier) NotifyBestEffort(context.Context, member.Member, order.Order, catalog.Option) {}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gift",
				"POSTGRES_PASSWORD": "gift",
				"POSTGRES_DB":       "gift",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://gift:gift@%s:%s/gift?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

type pgFixture struct {
	pool    *pgxpool.Pool
	svc     *order.Service
	members *MemberRepository
	catalog *CatalogRepository
	option  int64
	member  member.Member
}

func newPGFixture(t *testing.T, pool *pgxpool.Pool, productID int64, price int64, stockQty int, email string, balance int64) *pgFixture {
	t.Helper()
	ctx := context.Background()
	seeder := NewSeeder(pool)

	require.NoError(t, seeder.UpsertProduct(ctx, catalog.Product{
		ID: productID, Name: fmt.Sprintf("product-%d", productID), Price: decimal.NewFromInt(price),
	}))
	require.NoError(t, seeder.SyncSequences(ctx))
	optID, err := seeder.UpsertOption(ctx, productID, "default", stockQty)
	require.NoError(t, err)

	m, err := seeder.UpsertMember(ctx, email, "")
	require.NoError(t, err)

	uow := NewUnitOfWork(pool)
	if balance > 0 {
		err = uow.Do(ctx, func(ctx context.Context, tx order.Tx) error {
			locked, err := tx.LockMember(ctx, m.ID)
			if err != nil {
				return err
			}
			credited, err := points.Credit(locked, decimal.NewFromInt(balance))
			if err != nil {
				return err
			}
			return tx.SaveMember(ctx, credited)
		})
		require.NoError(t, err)
	}

	svc, err := order.NewService(uow, NewOrderRepository(pool), nopNotifier{}, order.ServiceOptions{})
	require.NoError(t, err)

	return &pgFixture{
		pool:    pool,
		svc:     svc,
		members: NewMemberRepository(pool),
		catalog: NewCatalogRepository(pool),
		option:  optID,
		member:  m,
	}
}

func (f *pgFixture) place(ctx context.Context, qty int) (*order.Order, error) {
	return f.svc.PlaceOrder(ctx, order.PlaceOrderRequest{MemberID: f.member.ID, OptionID: f.option, Quantity: qty})
}

func (f *pgFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	m, err := f.members.GetByEmail(context.Background(), f.member.Email)
	require.NoError(t, err)
	return m.Points
}

func (f *pgFixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	opts, err := f.catalog.ListOptions(context.Background(), productID)
	require.NoError(t, err)
	for _, o := range opts {
		if o.ID == f.option {
			return o.Quantity
		}
	}
	t.Fatalf("option %d not found", f.option)
	return 0
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	t.Run("Scenario", func(t *testing.T) {
		f := newPGFixture(t, pool, 1, 4500, 100, "scenario@example.com", 10000)

		o, err := f.place(ctx, 2)
		require.NoError(t, err)
		assert.Positive(t, o.ID)
		assert.False(t, o.CreatedAt.IsZero())
		assert.True(t, decimal.NewFromInt(9000).Equal(o.Charged))

		assert.Equal(t, 98, f.stock(t, 1))
		assert.True(t, decimal.NewFromInt(1000).Equal(f.balance(t)))

		_, err = f.place(ctx, 1)
		var ipErr *points.InsufficientPointsError
		require.ErrorAs(t, err, &ipErr)
		assert.Equal(t, 98, f.stock(t, 1), "failed charge must not consume stock")
	})

	t.Run("InsufficientStock", func(t *testing.T) {
		f := newPGFixture(t, pool, 2, 100, 1, "short@example.com", 10000)

		_, err := f.place(ctx, 2)
		var isErr *stock.InsufficientStockError
		require.ErrorAs(t, err, &isErr)
		assert.Equal(t, 1, isErr.Available)
		assert.True(t, decimal.NewFromInt(10000).Equal(f.balance(t)))
	})

	t.Run("UnknownOption", func(t *testing.T) {
		f := newPGFixture(t, pool, 3, 100, 1, "unknown@example.com", 100)

		_, err := f.svc.PlaceOrder(ctx, order.PlaceOrderRequest{MemberID: f.member.ID, OptionID: 999_999, Quantity: 1})
		var nfErr *catalog.OptionNotFoundError
		require.ErrorAs(t, err, &nfErr)

		_, err = f.catalog.ListOptions(ctx, 999_999)
		require.ErrorIs(t, err, catalog.ErrProductNotFound)
	})

	t.Run("ConcurrentStock", func(t *testing.T) {
		const (
			workers = 30
			k       = 5
		)
		f := newPGFixture(t, pool, 4, 10, k, "race@example.com", 1_000_000)

		var succeeded atomic.Int64
		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				_, err := f.place(ctx, 1)
				var isErr *stock.InsufficientStockError
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.As(err, &isErr):
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int64(k), succeeded.Load())
		assert.Zero(t, f.stock(t, 4))
		assert.True(t, decimal.NewFromInt(1_000_000-10*k).Equal(f.balance(t)))
	})

	t.Run("ConcurrentPoints", func(t *testing.T) {
		const workers = 20
		f := newPGFixture(t, pool, 5, 1000, 100, "budget@example.com", 3500)

		var succeeded atomic.Int64
		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				_, err := f.place(ctx, 1)
				var ipErr *points.InsufficientPointsError
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.As(err, &ipErr):
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int64(3), succeeded.Load())
		assert.Equal(t, 97, f.stock(t, 5))
		assert.True(t, decimal.NewFromInt(500).Equal(f.balance(t)))
	})

	t.Run("ListIsolation", func(t *testing.T) {
		a := newPGFixture(t, pool, 6, 1, 100, "alice@example.com", 100)
		b := newPGFixture(t, pool, 6, 1, 100, "bob@example.com", 100)

		for range 3 {
			_, err := a.place(ctx, 1)
			require.NoError(t, err)
			_, err = b.place(ctx, 1)
			require.NoError(t, err)
		}

		repo := NewOrderRepository(pool)
		list, err := repo.ListByMember(ctx, a.member.ID, order.Page{Number: 0, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, list.Total)
		require.Len(t, list.Orders, 2)
		assert.Greater(t, list.Orders[0].ID, list.Orders[1].ID)
		for _, o := range list.Orders {
			assert.Equal(t, a.member.ID, o.MemberID)
		}

		beyond, err := repo.ListByMember(ctx, a.member.ID, order.Page{Number: 5, Size: 2})
		require.NoError(t, err)
		assert.Empty(t, beyond.Orders)
		assert.Equal(t, 3, beyond.Total)
	})

	t.Run("MemberLookup", func(t *testing.T) {
		f := newPGFixture(t, pool, 7, 1, 1, "Case@Example.com", 0)

		m, err := f.members.GetByEmail(ctx, "case@example.COM")
		require.NoError(t, err)
		assert.Equal(t, f.member.ID, m.ID)

		_, err = f.members.GetByEmail(ctx, "missing@example.com")
		require.ErrorIs(t, err, member.ErrNotFound)
	})

	t.Run("MemberDeletionKeepsHistory", func(t *testing.T) {
		f := newPGFixture(t, pool, 8, 10, 10, "leaving@example.com", 100)

		placed, err := f.place(ctx, 2)
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `DELETE FROM members WHERE id = $1`, f.member.ID)
		require.NoError(t, err)

		_, err = f.members.GetByEmail(ctx, f.member.Email)
		require.ErrorIs(t, err, member.ErrNotFound)

		list, err := NewOrderRepository(pool).ListByMember(ctx, f.member.ID, order.Page{Number: 0, Size: 10})
		require.NoError(t, err)
		require.Len(t, list.Orders, 1)
		assert.Equal(t, placed.ID, list.Orders[0].ID)
		assert.True(t, decimal.NewFromInt(20).Equal(list.Orders[0].Charged))
	})
}
