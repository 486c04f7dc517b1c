package cart

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/rental"
)

// Storage persists carts by customer. Load returns an empty cart when the
// customer has none.
type Storage interface {
	Load(ctx context.Context, customerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, customerID string) error
}

// Locker serialises writers of the same cart across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Store is the cart of one customer. Readers see the last published
// snapshot without locking; writers take the cart lock, reload from storage,
// apply the change to a copy, flush it and only then publish.
type Store struct {
	customerID string
	storage    Storage
	locker     Locker
	lockTTL    time.Duration
	now        func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[Cart]
}

// Items returns a copy of the published lines.
func (s *Store) Items() []LineItem {
	return append([]LineItem(nil), s.current.Load().Items...)
}

// Snapshot returns the published cart. Callers must not modify it.
func (s *Store) Snapshot() *Cart {
	return s.current.Load()
}

// Subtotal sums the published line totals.
func (s *Store) Subtotal() pricing.Money {
	return s.current.Load().Subtotal()
}

// AddOrMerge appends item, or adds its quantity to the line with the same
// identity. A merged line keeps its existing price and rental range.
func (s *Store) AddOrMerge(ctx context.Context, item LineItem) error {
	if item.ProductID == "" {
		return fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if item.Quantity < 1 {
		return fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if item.DurationUnits < 1 {
		switch item.RentalMode {
		case rental.ModeDay, rental.ModeHour:
			return fmt.Errorf("%s rental duration %d: %w", item.RentalMode, item.DurationUnits, ErrInvalidInput)
		}
		item.DurationUnits = 1
	}
	item.recompute()
	return s.mutate(ctx, "add", func(c *Cart) error {
		if i := c.indexOf(item.Identity()); i >= 0 {
			merged := c.Items[i]
			merged.Quantity += item.Quantity
			merged.recompute()
			c.Items[i] = merged
			return nil
		}
		c.Items = append(c.Items, item)
		return nil
	})
}

// SetQuantity sets the quantity of a line. A quantity of zero or less
// removes it.
func (s *Store) SetQuantity(ctx context.Context, id Identity, quantity int) error {
	return s.mutate(ctx, "set_quantity", func(c *Cart) error {
		i := c.indexOf(id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, ErrItemNotFound)
		}
		if quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		line := c.Items[i]
		line.Quantity = quantity
		line.recompute()
		c.Items[i] = line
		return nil
	})
}

// Remove deletes a line. Removing an absent identity is a no-op.
func (s *Store) Remove(ctx context.Context, id Identity) error {
	return s.mutate(ctx, "remove", func(c *Cart) error {
		if i := c.indexOf(id); i >= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
		return nil
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear", func(c *Cart) error {
		c.Items = nil
		return nil
	})
}

// Refresh reloads the published snapshot from storage.
func (s *Store) Refresh(ctx context.Context) error {
	c, err := s.storage.Load(ctx, s.customerID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	s.current.Store(c)
	return nil
}

func (s *Store) mutate(ctx context.Context, op string, apply func(*Cart) error) (err error) {
	defer func() { observeMutation(op, err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.locker.WithLock(ctx, "cart:"+s.customerID, s.lockTTL, func(ctx context.Context) error {
		base, err := s.storage.Load(ctx, s.customerID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		next := base.clone()
		next.CustomerID = s.customerID
		if err := apply(next); err != nil {
			return err
		}
		if err := next.Check(); err != nil {
			return err
		}
		next.UpdatedAt = s.now().UTC()
		if len(next.Items) == 0 {
			err = s.storage.Delete(ctx, s.customerID)
		} else {
			err = s.storage.Save(ctx, next)
		}
		if err != nil {
			return fmt.Errorf("persist cart: %w", err)
		}
		s.current.Store(next)
		return nil
	})
}

func observeMutation(op string, err error) {
	if obs.CartMutationTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.CartMutationTotal.WithLabelValues(op, result).Inc()
}

// Manager opens the cart store of a customer.
type Manager struct {
	Storage Storage
	Locker  Locker
	LockTTL time.Duration
	Now     func() time.Time
}

// Open loads the customer's cart and returns a store publishing it.
func (m *Manager) Open(ctx context.Context, customerID string) (*Store, error) {
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required: %w", ErrInvalidInput)
	}
	s := &Store{
		customerID: customerID,
		storage:    m.Storage,
		locker:     m.locker(),
		lockTTL:    m.LockTTL,
		now:        m.Now,
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 10 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Clear empties the customer's cart.
func (m *Manager) Clear(ctx context.Context, customerID string) error {
	s, err := m.Open(ctx, customerID)
	if err != nil {
		return err
	}
	return s.Clear(ctx)
}

func (m *Manager) locker() Locker {
	if m.Locker == nil {
		return noLock{}
	}
	return m.Locker
}

type noLock struct{}

func (noLock) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}
