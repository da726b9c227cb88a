// Package stock is the ledger owning option stock counts.
//
// The ledger never writes anything itself: it loads an option through the
// caller's transaction-scoped loader and returns an updated copy. Persisting
// the copy is the caller's job, as part of its unit of work.
package stock

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/gift-orders/internal/domain/catalog"
)

// ErrInvalidQuantity is returned for zero or negative quantities.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// InsufficientStockError indicates the option has fewer units than requested.
type InsufficientStockError struct {
	OptionID  int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("option %d: insufficient stock: requested %d, available %d",
		e.OptionID, e.Requested, e.Available)
}

// Loader loads an option for modification. Implementations backed by a
// database must lock the row until the enclosing transaction ends.
type Loader interface {
	LockOption(ctx context.Context, id int64) (catalog.Option, error)
}

// Reserve loads the option and returns a copy with quantity units taken out
// of stock. It returns *catalog.OptionNotFoundError when the option does not
// exist and *InsufficientStockError when stock is short.
func Reserve(ctx context.Context, l Loader, optionID int64, quantity int) (catalog.Option, error) {
	if quantity <= 0 {
		return catalog.Option{}, ErrInvalidQuantity
	}

	opt, err := l.LockOption(ctx, optionID)
	if err != nil {
		return catalog.Option{}, errors.Wrap(err, "load option")
	}

	return Subtract(opt, quantity)
}

// Subtract returns opt with quantity units removed.
func Subtract(opt catalog.Option, quantity int) (catalog.Option, error) {
	if quantity <= 0 {
		return catalog.Option{}, ErrInvalidQuantity
	}
	if quantity > opt.Quantity {
		return catalog.Option{}, &InsufficientStockError{
			OptionID:  opt.ID,
			Requested: quantity,
			Available: opt.Quantity,
		}
	}

	opt.Quantity -= quantity
	return opt, nil
}
