package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gift-orders/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, price FROM products ORDER BY id`

	listOptionsSQL = `SELECT o.id, o.name, o.quantity, p.id, p.name, p.price
		FROM options o JOIN products p ON p.id = o.product_id
		WHERE o.product_id = $1 ORDER BY o.id`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListProducts returns all products ordered by ID.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var p catalog.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price)
		return p, err
	})
}

// ListOptions returns the options of a product ordered by ID. It returns
// catalog.ErrProductNotFound when the product does not exist.
func (r *CatalogRepository) ListOptions(ctx context.Context, productID int64) ([]catalog.Option, error) {
	rows, err := r.pool.Query(ctx, listOptionsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing options of product %d: %w", productID, err)
	}
	opts, err := pgx.CollectRows(rows, scanOption)
	if err != nil {
		return nil, fmt.Errorf("listing options of product %d: %w", productID, err)
	}
	if len(opts) > 0 {
		return opts, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsSQL, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking product %d: %w", productID, err)
	}
	if !exists {
		return nil, catalog.ErrProductNotFound
	}
	return opts, nil
}

// scanOption reads the column set shared by listOptionsSQL and lockOptionSQL.
func scanOption(row pgx.CollectableRow) (catalog.Option, error) {
	var o catalog.Option
	err := row.Scan(&o.ID, &o.Name, &o.Quantity, &o.Product.ID, &o.Product.Name, &o.Product.Price)
	return o, err
}
