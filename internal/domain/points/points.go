// Package points is the ledger owning member point balances.
package points

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gift-orders/internal/domain/member"
)

// ErrInvalidAmount is returned for amounts that are not positive whole numbers.
var ErrInvalidAmount = errors.New("amount must be a positive whole number")

// InsufficientPointsError indicates the member cannot afford the charge.
type InsufficientPointsError struct {
	MemberID  int64
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("member %d: insufficient points: required %s, available %s",
		e.MemberID, e.Required, e.Available)
}

// Price returns the cost of quantity units at unitPrice.
func Price(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Charge returns m with amount deducted from its balance.
func Charge(m member.Member, amount decimal.Decimal) (member.Member, error) {
	if err := validate(amount); err != nil {
		return member.Member{}, err
	}
	if amount.GreaterThan(m.Points) {
		return member.Member{}, &InsufficientPointsError{
			MemberID:  m.ID,
			Required:  amount,
			Available: m.Points,
		}
	}

	m.Points = m.Points.Sub(amount)
	return m, nil
}

// Credit returns m with amount added to its balance.
func Credit(m member.Member, amount decimal.Decimal) (member.Member, error) {
	if err := validate(amount); err != nil {
		return member.Member{}, err
	}

	m.Points = m.Points.Add(amount)
	return m, nil
}

func validate(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}
