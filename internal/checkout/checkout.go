// Package checkout is the reference saga: reserve inventory, charge
// payment, create shipment. Each call to a dependency is guarded by a
// named circuit breaker and retried on transient failures.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
	"github.com/fortressi/sagaflow/retry"
)

// SagaName is the name checkout sagas run under.
const SagaName = "checkout"

// Dependency names, also used as breaker names.
const (
	DepInventory = "inventory"
	DepPayments  = "payments"
	DepShipping  = "shipping"
)

// Order is the saga context threaded through the checkout steps.
type Order struct {
	ID            string `json:"id"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	AmountCents   int64  `json:"amount_cents"`
	Address       string `json:"address"`
	ReservationID string `json:"reservation_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	ShipmentID    string `json:"shipment_id,omitempty"`
}

// Checkout builds the checkout steps against a set of services.
type Checkout struct {
	inventory *Inventory
	payments  *Payments
	shipping  *Shipping

	policy   retry.Policy
	breakers *breaker.Registry
	logger   *zap.Logger
}

type Option func(*Checkout)

// WithRetryPolicy replaces retry.Default for every dependency call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Checkout) {
		c.policy = p
	}
}

// WithBreakers guards forward calls with breakers taken from r.
func WithBreakers(r *breaker.Registry) Option {
	return func(c *Checkout) {
		c.breakers = r
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Checkout) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(inventory *Inventory, payments *Payments, shipping *Shipping, opts ...Option) *Checkout {
	c := &Checkout{
		inventory: inventory,
		payments:  payments,
		shipping:  shipping,
		policy:    retry.Default(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, breaker.ErrTimeout)
}

// Steps returns reserveInventory, chargePayment and createShipment.
func (c *Checkout) Steps() ([]sagaflow.Step[Order], error) {
	reserve, err := c.forward(DepInventory, func(ctx context.Context, o Order) (Order, error) {
		id, err := c.inventory.Reserve(ctx, o.SKU, o.Quantity)
		if err != nil {
			return o, err
		}
		o.ReservationID = id
		return o, nil
	})
	if err != nil {
		return nil, err
	}

	charge, err := c.forward(DepPayments, func(ctx context.Context, o Order) (Order, error) {
		id, err := c.payments.Charge(ctx, o.ID, o.AmountCents)
		if err != nil {
			return o, err
		}
		o.PaymentID = id
		return o, nil
	})
	if err != nil {
		return nil, err
	}

	ship, err := c.forward(DepShipping, func(ctx context.Context, o Order) (Order, error) {
		id, err := c.shipping.Create(ctx, o.ID, o.Address)
		if err != nil {
			return o, err
		}
		o.ShipmentID = id
		return o, nil
	})
	if err != nil {
		return nil, err
	}

	return []sagaflow.Step[Order]{
		sagaflow.NewStep("reserveInventory", reserve, c.backward(DepInventory, func(ctx context.Context, o Order) (Order, error) {
			if err := c.inventory.Release(ctx, o.ReservationID); err != nil {
				return o, err
			}
			o.ReservationID = ""
			return o, nil
		})),
		sagaflow.NewStep("chargePayment", charge, c.backward(DepPayments, func(ctx context.Context, o Order) (Order, error) {
			if err := c.payments.Refund(ctx, o.PaymentID); err != nil {
				return o, err
			}
			o.PaymentID = ""
			return o, nil
		})),
		sagaflow.NewStep("createShipment", ship, c.backward(DepShipping, func(ctx context.Context, o Order) (Order, error) {
			if err := c.shipping.Cancel(ctx, o.ShipmentID); err != nil {
				return o, err
			}
			o.ShipmentID = ""
			return o, nil
		})),
	}, nil
}

// Run executes one checkout saga for order.
func (c *Checkout) Run(ctx context.Context, orch *sagaflow.Orchestrator[Order], order Order) (*sagaflow.SagaState[Order], error) {
	steps, err := c.Steps()
	if err != nil {
		return nil, err
	}
	return orch.Execute(ctx, SagaName, steps, order)
}

// forward guards fn with the dependency's breaker and retries transient failures.
func (c *Checkout) forward(dep string, fn sagaflow.StepFunc[Order]) (sagaflow.StepFunc[Order], error) {
	if c.breakers != nil {
		b, err := c.breakers.Get(dep)
		if err != nil {
			return nil, fmt.Errorf("breaker for %s: %w", dep, err)
		}
		fn = breaker.WrapStep(b, fn)
	}
	return c.retried(dep, fn), nil
}

// backward retries compensations but never routes them through a breaker:
// an open breaker must not stop a rollback from being attempted.
func (c *Checkout) backward(dep string, fn sagaflow.StepFunc[Order]) sagaflow.StepFunc[Order] {
	return c.retried(dep+".undo", fn)
}

func (c *Checkout) retried(name string, fn sagaflow.StepFunc[Order]) sagaflow.StepFunc[Order] {
	return retry.WrapStep(c.policy, fn,
		retry.RetryIf(IsTransient),
		retry.WithLogger(c.logger),
		retry.WithName(name),
	)
}
