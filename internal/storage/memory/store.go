// Package memory is an in-process storage backend for local development and
// tests. Units of work are serialized by a single writer lock and their
// writes are staged until commit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
)

var (
	_ catalog.Repository = (*Store)(nil)
	_ member.Repository  = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
	_ order.UnitOfWork   = (*Store)(nil)
)

// ErrDuplicate is returned when seeding would violate a uniqueness rule.
var ErrDuplicate = errors.New("duplicate entry")

type optionRow struct {
	id        int64
	productID int64
	name      string
	quantity  int
}

// Store holds catalog, members and orders in memory.
type Store struct {
	// txMu serializes units of work; mu guards the maps for readers.
	txMu sync.Mutex
	mu   sync.RWMutex

	products map[int64]catalog.Product
	options  map[int64]optionRow
	members  map[int64]member.Member
	orders   []order.Order

	lastProductID int64
	lastOptionID  int64
	lastMemberID  int64
	lastOrderID   int64

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products: make(map[int64]catalog.Product),
		options:  make(map[int64]optionRow),
		members:  make(map[int64]member.Member),
		now:      time.Now,
	}
}

// AddProduct inserts a product and returns it with its assigned ID.
func (s *Store) AddProduct(name string, price decimal.Decimal) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastProductID++
	p := catalog.Product{ID: s.lastProductID, Name: name, Price: price}
	s.products[p.ID] = p
	return p
}

// SetProductPrice changes the current price of a product.
func (s *Store) SetProductPrice(productID int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.Price = price
	s.products[productID] = p
	return nil
}

// AddOption inserts an option for an existing product. Option names are
// unique within a product.
func (s *Store) AddOption(productID int64, name string, quantity int) (catalog.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return catalog.Option{}, catalog.ErrProductNotFound
	}
	for _, row := range s.options {
		if row.productID == productID && row.name == name {
			return catalog.Option{}, errors.Wrapf(ErrDuplicate, "option %q of product %d", name, productID)
		}
	}

	s.lastOptionID++
	row := optionRow{id: s.lastOptionID, productID: productID, name: name, quantity: quantity}
	s.options[row.id] = row
	return row.toOption(p), nil
}

// AddMember inserts a member. Emails are unique, compared case-insensitively.
func (s *Store) AddMember(email string, balance decimal.Decimal, notifyToken string) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if strings.EqualFold(m.Email, email) {
			return member.Member{}, errors.Wrapf(ErrDuplicate, "member %q", email)
		}
	}

	s.lastMemberID++
	m := member.Member{ID: s.lastMemberID, Email: email, Points: balance, NotifyToken: notifyToken}
	s.members[m.ID] = m
	return m, nil
}

// UpsertProduct inserts or replaces a product with an explicit ID.
func (s *Store) UpsertProduct(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[p.ID] = p
	s.lastProductID = max(s.lastProductID, p.ID)
	return nil
}

// UpsertOption inserts an option or resets the stock of the existing option
// with the same name, and returns its ID.
func (s *Store) UpsertOption(_ context.Context, productID int64, name string, quantity int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return 0, catalog.ErrProductNotFound
	}
	for id, row := range s.options {
		if row.productID == productID && row.name == name {
			row.quantity = quantity
			s.options[id] = row
			return id, nil
		}
	}

	s.lastOptionID++
	s.options[s.lastOptionID] = optionRow{id: s.lastOptionID, productID: productID, name: name, quantity: quantity}
	return s.lastOptionID, nil
}

// UpsertMember inserts a member with a zero balance or updates the
// notification token of the member with the same email.
func (s *Store) UpsertMember(_ context.Context, email, notifyToken string) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.members {
		if strings.EqualFold(m.Email, email) {
			m.NotifyToken = notifyToken
			s.members[id] = m
			return m, nil
		}
	}

	s.lastMemberID++
	m := member.Member{ID: s.lastMemberID, Email: email, Points: decimal.Zero, NotifyToken: notifyToken}
	s.members[m.ID] = m
	return m, nil
}

// GetOption returns the committed state of an option.
func (s *Store) GetOption(_ context.Context, id int64) (catalog.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.optionLocked(id)
}

func (s *Store) optionLocked(id int64) (catalog.Option, error) {
	row, ok := s.options[id]
	if !ok {
		return catalog.Option{}, &catalog.OptionNotFoundError{OptionID: id}
	}
	return row.toOption(s.products[row.productID]), nil
}

// ListProducts returns all products ordered by ID.
func (s *Store) ListProducts(_ context.Context) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOptions returns the options of a product ordered by ID.
func (s *Store) ListOptions(_ context.Context, productID int64) ([]catalog.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}

	out := make([]catalog.Option, 0)
	for _, row := range s.options {
		if row.productID == productID {
			out = append(out, row.toOption(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByEmail returns a member by email, compared case-insensitively.
func (s *Store) GetByEmail(_ context.Context, email string) (*member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members {
		if strings.EqualFold(m.Email, email) {
			return &m, nil
		}
	}
	return nil, member.ErrNotFound
}

// ListByMember returns the member's orders, newest first.
func (s *Store) ListByMember(_ context.Context, memberID int64, page order.Page) (*order.List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]order.Order, 0)
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].MemberID == memberID {
			owned = append(owned, s.orders[i])
		}
	}

	list := &order.List{Page: page, Total: len(owned), Orders: []order.Order{}}
	if start := page.Offset(); start < len(owned) {
		end := min(start+page.Size, len(owned))
		list.Orders = owned[start:end]
	}
	return list, nil
}

// Do runs fn as a unit of work. Writes are applied only if fn returns nil.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin")
	}

	tx := &memTx{
		store:   s,
		options: make(map[int64]optionRow),
		members: make(map[int64]member.Member),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range tx.options {
		s.options[id] = row
	}
	for id, m := range tx.members {
		s.members[id] = m
	}
	s.orders = append(s.orders, tx.orders...)
	s.lastOrderID += int64(len(tx.orders))
	return nil
}

// memTx stages writes of one unit of work. The store's txMu is held for its
// whole lifetime, so committed state cannot change underneath it.
type memTx struct {
	store   *Store
	options map[int64]optionRow
	members map[int64]member.Member
	orders  []order.Order
}

func (t *memTx) LockOption(_ context.Context, id int64) (catalog.Option, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if row, ok := t.options[id]; ok {
		return row.toOption(t.store.products[row.productID]), nil
	}
	return t.store.optionLocked(id)
}

func (t *memTx) LockMember(_ context.Context, id int64) (member.Member, error) {
	if m, ok := t.members[id]; ok {
		return m, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	m, ok := t.store.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return m, nil
}

func (t *memTx) SaveOption(_ context.Context, opt catalog.Option) error {
	t.store.mu.RLock()
	row, ok := t.store.options[opt.ID]
	t.store.mu.RUnlock()
	if !ok {
		return &catalog.OptionNotFoundError{OptionID: opt.ID}
	}
	if opt.Quantity < 0 {
		return errors.Errorf("option %d: negative quantity %d", opt.ID, opt.Quantity)
	}

	row.quantity = opt.Quantity
	t.options[opt.ID] = row
	return nil
}

func (t *memTx) SaveMember(_ context.Context, m member.Member) error {
	t.store.mu.RLock()
	_, ok := t.store.members[m.ID]
	t.store.mu.RUnlock()
	if !ok {
		return member.ErrNotFound
	}
	if m.Points.IsNegative() {
		return errors.Errorf("member %d: negative points %s", m.ID, m.Points)
	}

	t.members[m.ID] = m
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *order.Order) error {
	if o.Quantity <= 0 {
		return errors.Errorf("order quantity must be positive, got %d", o.Quantity)
	}

	o.ID = t.store.lastOrderID + int64(len(t.orders)) + 1
	o.CreatedAt = t.store.now().UTC()
	t.orders = append(t.orders, *o)
	return nil
}

func (r optionRow) toOption(p catalog.Product) catalog.Option {
	return catalog.Option{
		ID:       r.id,
		Name:     r.name,
		Quantity: r.quantity,
		Product:  p,
	}
}
