package handler

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/gift-orders/internal/domain/auth"
	"github.com/xenking/gift-orders/internal/domain/member"
)

var _ auth.Resolver = (*JWTResolver)(nil)

// Claims are the JWT claims understood by JWTResolver. Email takes
// precedence over the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver authenticates "Bearer <token>" headers carrying an HS256 JWT
// and resolves the token's email to a member.
type JWTResolver struct {
	secret  []byte
	members member.Repository
	parser  *jwt.Parser
}

// NewJWTResolver creates a JWTResolver verifying tokens with secret.
func NewJWTResolver(secret []byte, members member.Repository) *JWTResolver {
	return &JWTResolver{
		secret:  secret,
		members: members,
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Resolve returns auth.ErrCredentialAbsent for an empty header and
// auth.ErrCredentialInvalid when the token does not verify or names no
// known member. Storage failures are returned as is.
func (s *JWTResolver) Resolve(ctx context.Context, header string) (*member.Member, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, auth.ErrCredentialAbsent
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, errors.Wrap(auth.ErrCredentialInvalid, "expected bearer token")
	}

	var claims Claims
	_, err := s.parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, errors.Wrapf(auth.ErrCredentialInvalid, "parse token: %v", err)
	}

	email := claims.Email
	if email == "" {
		email = claims.Subject
	}
	if email == "" {
		return nil, errors.Wrap(auth.ErrCredentialInvalid, "token has no email")
	}

	m, err := s.members.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return nil, errors.Wrapf(auth.ErrCredentialInvalid, "unknown member %q", email)
		}
		return nil, errors.Wrap(err, "get member")
	}
	return m, nil
}

// SignToken issues an HS256 token for email, valid for ttl from now. A zero
// ttl issues a token without expiry.
func SignToken(secret []byte, email string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  email,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
