package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/gift-orders/internal/storage/memory"
)

const sample = `{
  "products": [
    {"id": 10, "name": "Gift Box", "price": 4500, "options": [
      {"name": "Small", "quantity": 5},
      {"name": "Large", "quantity": 100}
    ]},
    {"id": 11, "name": "Candle", "price": 900, "options": [{"name": "Lavender", "quantity": 0}]}
  ],
  "members": [
    {"email": "alice@example.com", "notifyToken": "tok", "grant": 10000},
    {"email": "bob@example.com"}
  ]
}`

func TestDecode_Valid(t *testing.T) {
	f, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Products, 2)
	assert.True(t, decimal.NewFromInt(4500).Equal(f.Products[0].Price))
	require.Len(t, f.Members, 2)
	assert.True(t, f.Members[1].Grant.IsZero())
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"zero price", `{"products":[{"id":1,"name":"x","price":0}]}`, "price"},
		{"fractional price", `{"products":[{"id":1,"name":"x","price":1.5}]}`, "price"},
		{"duplicate product", `{"products":[{"id":1,"name":"x","price":1},{"id":1,"name":"y","price":1}]}`, "duplicate id"},
		{"negative stock", `{"products":[{"id":1,"name":"x","price":1,"options":[{"name":"a","quantity":-1}]}]}`, "negative quantity"},
		{"duplicate option", `{"products":[{"id":1,"name":"x","price":1,"options":[{"name":"a"},{"name":"a"}]}]}`, "duplicate option"},
		{"duplicate email", `{"members":[{"email":"a@x.io"},{"email":"b@x.io"},{"email":"A@X.io"}]}`, "duplicate member email"},
		{"negative grant", `{"members":[{"email":"a@x.io","grant":-5}]}`, "grant"},
		{"not json", `{`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDuplicateEmail(t *testing.T) {
	members := make([]Member, 0, 1000)
	for i := range 1000 {
		members = append(members, Member{Email: "user" + decimal.NewFromInt(int64(i)).String() + "@example.com"})
	}
	_, ok := DuplicateEmail(members)
	assert.False(t, ok)

	members = append(members, Member{Email: "USER42@example.com"})
	dup, ok := DuplicateEmail(members)
	assert.True(t, ok)
	assert.Equal(t, "USER42@example.com", dup)
}

func TestLoad_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json.gz")
	out, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(out)
	_, err = gz.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Products, 2)
}

func TestApply_Memory(t *testing.T) {
	f, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	s := memory.New()
	ctx := context.Background()

	stats, err := Apply(ctx, f, s, s)
	require.NoError(t, err)
	assert.Equal(t, Stats{Products: 2, Options: 3, Members: 2}, stats)

	opts, err := s.ListOptions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, opts, 2)

	alice, err := s.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10000).Equal(alice.Points))
	assert.Equal(t, "tok", alice.NotifyToken)

	// A second run resets stock and grants again.
	_, err = Apply(ctx, f, s, s)
	require.NoError(t, err)
	alice, err = s.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20000).Equal(alice.Points))
	opts, err = s.ListOptions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}
