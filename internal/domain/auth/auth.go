// Package auth defines how a request credential resolves to a member.
package auth

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/gift-orders/internal/domain/member"
)

var (
	// ErrCredentialAbsent is returned when the request carries no credential
	// at all. The HTTP layer reports it as a validation failure (400).
	ErrCredentialAbsent = errors.New("authorization header is required")
	// ErrCredentialInvalid is returned when a credential is present but
	// malformed, expired, badly signed or names an unknown member (401).
	ErrCredentialInvalid = errors.New("invalid credential")
)

// Resolver turns a raw Authorization header value into the member it
// identifies.
type Resolver interface {
	Resolve(ctx context.Context, header string) (*member.Member, error)
}
