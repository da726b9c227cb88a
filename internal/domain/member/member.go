// Package member defines the purchasing member as seen by the order core.
package member

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no member matches a lookup.
var ErrNotFound = errors.New("member not found")

// Member is a registered gift buyer.
type Member struct {
	ID     int64
	Email  string
	Points decimal.Decimal

	// NotifyToken is the linked external notification credential. Empty when
	// the member never linked an external account.
	NotifyToken string
}

// HasNotifyToken reports whether notifications can be delivered to the member.
func (m Member) HasNotifyToken() bool {
	return m.NotifyToken != ""
}

// Repository provides member lookups for authentication.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (*Member, error)
}
