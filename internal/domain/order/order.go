package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/stock"
)

// Order is an immutable record of a completed purchase. MemberID is kept by
// value so order history does not depend on the member row.
type Order struct {
	ID        int64
	OptionID  int64
	MemberID  int64
	Quantity  int
	Message   string
	Charged   decimal.Decimal
	CreatedAt time.Time
}

// Page limits for order listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrInvalidPage is returned for negative page numbers or out-of-range sizes.
var ErrInvalidPage = errors.New("invalid page")

// Page selects a zero-based slice of a listing.
type Page struct {
	Number int
	Size   int
}

// NewPage validates number and size. A zero size selects DefaultPageSize.
func NewPage(number, size int) (Page, error) {
	if size == 0 {
		size = DefaultPageSize
	}
	if number < 0 || size < 0 || size > MaxPageSize {
		return Page{}, ErrInvalidPage
	}
	return Page{Number: number, Size: size}, nil
}

// Offset returns the number of rows preceding the page.
func (p Page) Offset() int {
	return p.Number * p.Size
}

// List is one page of a member's orders, most recent first.
type List struct {
	Orders []Order
	Page   Page
	Total  int
}

// Repository provides read access to stored orders.
type Repository interface {
	// ListByMember returns orders owned by memberID only, ordered by id
	// descending.
	ListByMember(ctx context.Context, memberID int64, page Page) (*List, error)
}

// Tx is the set of writes available inside a unit of work. Nothing written
// through a Tx is visible to other readers until the unit of work commits.
type Tx interface {
	stock.Loader

	// LockMember loads a member for modification. Returns member.ErrNotFound
	// when the member does not exist.
	LockMember(ctx context.Context, id int64) (member.Member, error)
	SaveOption(ctx context.Context, opt catalog.Option) error
	SaveMember(ctx context.Context, m member.Member) error
	// CreateOrder assigns o.ID and o.CreatedAt and stores the record.
	CreateOrder(ctx context.Context, o *Order) error
}

// UnitOfWork runs fn atomically: either every write made through the Tx is
// committed, or none is. A non-nil error from fn is returned unchanged.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier receives placed orders after commit. It has no way to report
// failure to the caller.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, m member.Member, o Order, opt catalog.Option)
}
