package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrOutOfStock is returned when a reservation exceeds the available stock.
	ErrOutOfStock = errors.New("insufficient stock")

	// ErrCardDeclined is a permanent payment failure.
	ErrCardDeclined = errors.New("card declined")

	// ErrUnavailable is a transient failure of a remote dependency.
	ErrUnavailable = errors.New("service unavailable")

	// ErrNotFound is returned when undoing something that does not exist.
	ErrNotFound = errors.New("not found")
)

// Inventory is an in-memory stock ledger.
type Inventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]reservation

	// Outages makes the next n calls fail with ErrUnavailable.
	Outages int
	// ReleaseErr, when set, is returned by every Release.
	ReleaseErr error
}

type reservation struct {
	sku      string
	quantity int
}

func NewInventory(stock map[string]int) *Inventory {
	s := make(map[string]int, len(stock))
	for sku, n := range stock {
		s[sku] = n
	}
	return &Inventory{stock: s, reservations: make(map[string]reservation)}
}

func (i *Inventory) Reserve(_ context.Context, sku string, quantity int) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.Outages > 0 {
		i.Outages--
		return "", fmt.Errorf("inventory: %w", ErrUnavailable)
	}
	if i.stock[sku] < quantity {
		return "", fmt.Errorf("reserve %d x %s: %w", quantity, sku, ErrOutOfStock)
	}
	i.stock[sku] -= quantity
	id := "res-" + uuid.NewString()
	i.reservations[id] = reservation{sku: sku, quantity: quantity}
	return id, nil
}

func (i *Inventory) Release(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.ReleaseErr != nil {
		return i.ReleaseErr
	}
	r, ok := i.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	delete(i.reservations, id)
	i.stock[r.sku] += r.quantity
	return nil
}

// Available returns the unreserved stock of sku.
func (i *Inventory) Available(sku string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[sku]
}

// Payments is an in-memory payment processor.
type Payments struct {
	mu      sync.Mutex
	charges map[string]int64

	// Decline makes every charge fail with ErrCardDeclined.
	Decline bool
	// Outages makes the next n calls fail with ErrUnavailable.
	Outages int
}

func NewPayments() *Payments {
	return &Payments{charges: make(map[string]int64)}
}

func (p *Payments) Charge(_ context.Context, orderID string, amountCents int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Outages > 0 {
		p.Outages--
		return "", fmt.Errorf("payments: %w", ErrUnavailable)
	}
	if p.Decline {
		return "", fmt.Errorf("charge order %s: %w", orderID, ErrCardDeclined)
	}
	id := "pay-" + uuid.NewString()
	p.charges[id] = amountCents
	return id, nil
}

func (p *Payments) Refund(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.charges[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	delete(p.charges, id)
	return nil
}

// Captured returns the total amount currently charged.
func (p *Payments) Captured() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, amount := range p.charges {
		total += amount
	}
	return total
}

// Shipping is an in-memory carrier booking service.
type Shipping struct {
	mu        sync.Mutex
	shipments map[string]string

	// NoCarrier makes every booking fail.
	NoCarrier bool
}

func NewShipping() *Shipping {
	return &Shipping{shipments: make(map[string]string)}
}

func (s *Shipping) Create(_ context.Context, orderID, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.NoCarrier {
		return "", fmt.Errorf("ship order %s to %q: no carrier available", orderID, address)
	}
	id := "ship-" + uuid.NewString()
	s.shipments[id] = orderID
	return id, nil
}

func (s *Shipping) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shipments[id]; !ok {
		return fmt.Errorf("shipment %s: %w", id, ErrNotFound)
	}
	delete(s.shipments, id)
	return nil
}

// Booked returns the number of active shipments.
func (s *Shipping) Booked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shipments)
}
