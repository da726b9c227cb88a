// Package catalog holds the read side of products and their purchasable options.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when a requested product does not exist.
var ErrProductNotFound = errors.New("product not found")

// OptionNotFoundError indicates a requested option does not exist.
type OptionNotFoundError struct {
	OptionID int64
}

func (e *OptionNotFoundError) Error() string {
	return fmt.Sprintf("option %d not found", e.OptionID)
}

// Product is a catalog item. Price is a whole number of points per unit.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// Option is a purchasable variant of a product with its own stock count.
type Option struct {
	ID       int64
	Name     string
	Quantity int

	// Product is resolved together with the option so that pricing always
	// reflects the product row read in the same request.
	Product Product
}

// Repository defines read operations for catalog browsing.
type Repository interface {
	ListProducts(ctx context.Context) ([]Product, error)
	ListOptions(ctx context.Context, productID int64) ([]Option, error)
}
