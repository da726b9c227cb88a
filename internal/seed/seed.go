// Package seed loads catalog and member fixtures from JSON files and applies
// them to a storage backend.
package seed

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
	"github.com/xenking/gift-orders/internal/domain/points"
)

const (
	bloomFPR    = 0.001
	parallelism = 4
)

// File is the seed document.
type File struct {
	Products []Product `json:"products"`
	Members  []Member  `json:"members"`
}

// Product is a product with its options. IDs are explicit so repeated seeding
// updates rows in place.
type Product struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Options []Option        `json:"options"`
}

// Option is identified by its name within the product.
type Option struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Member is identified by email. Grant points are credited on every run.
type Member struct {
	Email       string          `json:"email"`
	NotifyToken string          `json:"notifyToken"`
	Grant       decimal.Decimal `json:"grant"`
}

// Target receives seed rows.
type Target interface {
	UpsertProduct(ctx context.Context, p catalog.Product) error
	UpsertOption(ctx context.Context, productID int64, name string, quantity int) (int64, error)
	UpsertMember(ctx context.Context, email, notifyToken string) (member.Member, error)
}

// Load reads a seed file. Files ending in .gz are decompressed.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer gz.Close()
		r = gz
	}

	return Decode(r)
}

// Decode parses and validates a seed document.
func Decode(r io.Reader) (*File, error) {
	var file File
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks prices, stock, grants and uniqueness of product IDs,
// option names and member emails.
func (f *File) Validate() error {
	productIDs := make(map[int64]struct{}, len(f.Products))
	for _, p := range f.Products {
		if p.ID <= 0 {
			return errors.Errorf("product %q: id must be positive", p.Name)
		}
		if _, ok := productIDs[p.ID]; ok {
			return errors.Errorf("product %d: duplicate id", p.ID)
		}
		productIDs[p.ID] = struct{}{}

		if !p.Price.IsPositive() || !p.Price.IsInteger() {
			return errors.Errorf("product %d: price must be a positive whole number, got %s", p.ID, p.Price)
		}

		names := make(map[string]struct{}, len(p.Options))
		for _, o := range p.Options {
			if o.Name == "" {
				return errors.Errorf("product %d: option without name", p.ID)
			}
			if o.Quantity < 0 {
				return errors.Errorf("product %d option %q: negative quantity", p.ID, o.Name)
			}
			if _, ok := names[o.Name]; ok {
				return errors.Errorf("product %d: duplicate option %q", p.ID, o.Name)
			}
			names[o.Name] = struct{}{}
		}
	}

	for _, m := range f.Members {
		if m.Email == "" {
			return errors.New("member without email")
		}
		if m.Grant.IsNegative() || !m.Grant.IsInteger() {
			return errors.Errorf("member %q: grant must be a non-negative whole number", m.Email)
		}
	}
	if dup, ok := DuplicateEmail(f.Members); ok {
		return errors.Errorf("duplicate member email %q", dup)
	}
	return nil
}

// DuplicateEmail reports the first email, compared case-insensitively, that
// occurs more than once. A bloom filter screens every email and only its
// positives are confirmed against earlier entries.
func DuplicateEmail(members []Member) (string, bool) {
	if len(members) < 2 {
		return "", false
	}

	filter := bloom.NewWithEstimates(uint(len(members)), bloomFPR)
	for i, m := range members {
		key := strings.ToLower(m.Email)
		if !filter.TestAndAddString(key) {
			continue
		}
		for _, prev := range members[:i] {
			if strings.EqualFold(prev.Email, m.Email) {
				return m.Email, true
			}
		}
	}
	return "", false
}

// Stats counts what Apply wrote.
type Stats struct {
	Products int
	Options  int
	Members  int
}

// Apply upserts products with their options, then members, and credits each
// member's grant through uow. Products and members are written concurrently.
func Apply(ctx context.Context, f *File, target Target, uow order.UnitOfWork) (Stats, error) {
	var stats Stats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	optionCounts := make([]int, len(f.Products))
	for i, p := range f.Products {
		g.Go(func() error {
			if err := target.UpsertProduct(gctx, catalog.Product{ID: p.ID, Name: p.Name, Price: p.Price}); err != nil {
				return errors.Wrapf(err, "upsert product %d", p.ID)
			}
			for _, o := range p.Options {
				if _, err := target.UpsertOption(gctx, p.ID, o.Name, o.Quantity); err != nil {
					return errors.Wrapf(err, "upsert option %q of product %d", o.Name, p.ID)
				}
			}
			optionCounts[i] = len(p.Options)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	stats.Products = len(f.Products)
	for _, n := range optionCounts {
		stats.Options += n
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, m := range f.Members {
		g.Go(func() error {
			stored, err := target.UpsertMember(gctx, m.Email, m.NotifyToken)
			if err != nil {
				return errors.Wrapf(err, "upsert member %q", m.Email)
			}
			if !m.Grant.IsPositive() {
				return nil
			}
			if err := Grant(gctx, uow, stored.ID, m.Grant); err != nil {
				return errors.Wrapf(err, "grant member %q", m.Email)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	stats.Members = len(f.Members)
	return stats, nil
}

// Grant credits amount points to a member in its own unit of work.
func Grant(ctx context.Context, uow order.UnitOfWork, memberID int64, amount decimal.Decimal) error {
	return uow.Do(ctx, func(ctx context.Context, tx order.Tx) error {
		m, err := tx.LockMember(ctx, memberID)
		if err != nil {
			return errors.Wrap(err, "load member")
		}
		credited, err := points.Credit(m, amount)
		if err != nil {
			return err
		}
		return tx.SaveMember(ctx, credited)
	})
}
