package handler

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/gift-orders/internal/domain/auth"
	"github.com/xenking/gift-orders/internal/storage/memory"
)

func TestJWTResolver(t *testing.T) {
	s := memory.New()
	m, err := s.AddMember("carol@example.com", decimal.NewFromInt(5), "")
	require.NoError(t, err)
	r := NewJWTResolver(testSecret, s)
	ctx := context.Background()

	t.Run("EmailClaim", func(t *testing.T) {
		token, err := SignToken(testSecret, "Carol@Example.com", 0, time.Now())
		require.NoError(t, err)

		got, err := r.Resolve(ctx, "bearer "+token)
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
	})

	t.Run("SubjectFallback", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: "carol@example.com",
		}).SignedString(testSecret)
		require.NoError(t, err)

		got, err := r.Resolve(ctx, "Bearer "+token)
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
	})

	t.Run("Absent", func(t *testing.T) {
		_, err := r.Resolve(ctx, "   ")
		require.ErrorIs(t, err, auth.ErrCredentialAbsent)
	})

	t.Run("NoneAlgorithmRejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "carol@example.com"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = r.Resolve(ctx, "Bearer "+token)
		require.ErrorIs(t, err, auth.ErrCredentialInvalid)
	})

	t.Run("NoIdentity", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = r.Resolve(ctx, "Bearer "+token)
		require.ErrorIs(t, err, auth.ErrCredentialInvalid)
		assert.False(t, errors.Is(err, auth.ErrCredentialAbsent))
	})
}
