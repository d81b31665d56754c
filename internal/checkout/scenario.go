package checkout

import (
	"errors"
	"fmt"
	"strings"
)

// Scenario names one of the canned checkout runs.
type Scenario string

const (
	// ScenarioDeclined: the card is declined and the reservation is released.
	ScenarioDeclined Scenario = "a"
	// ScenarioHappyPath: every step succeeds.
	ScenarioHappyPath Scenario = "b"
	// ScenarioCompensationFailure: no carrier is available and releasing
	// the reservation fails, leaving manual work behind.
	ScenarioCompensationFailure Scenario = "c"
)

// Scenarios lists every scenario in order.
var Scenarios = []Scenario{ScenarioDeclined, ScenarioHappyPath, ScenarioCompensationFailure}

// ErrWarehouseUnreachable is the release failure injected by ScenarioCompensationFailure.
var ErrWarehouseUnreachable = errors.New("warehouse unreachable")

const demoSKU = "SKU-1"

// ParseScenario accepts a scenario letter in either case.
func ParseScenario(s string) (Scenario, error) {
	sc := Scenario(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Scenarios {
		if sc == known {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q: want one of a, b, c", s)
}

func (s Scenario) Description() string {
	switch s {
	case ScenarioDeclined:
		return "payment declined, inventory released"
	case ScenarioHappyPath:
		return "all steps succeed"
	case ScenarioCompensationFailure:
		return "shipping fails and inventory release fails"
	default:
		return "unknown scenario"
	}
}

// Services returns fresh services rigged for the scenario.
func (s Scenario) Services() (*Inventory, *Payments, *Shipping) {
	inventory := NewInventory(map[string]int{demoSKU: 10})
	payments := NewPayments()
	shipping := NewShipping()

	switch s {
	case ScenarioDeclined:
		payments.Decline = true
	case ScenarioCompensationFailure:
		shipping.NoCarrier = true
		inventory.ReleaseErr = ErrWarehouseUnreachable
	}
	return inventory, payments, shipping
}

// DemoOrder returns the order every scenario checks out.
func DemoOrder(id string) Order {
	return Order{
		ID:          id,
		SKU:         demoSKU,
		Quantity:    2,
		AmountCents: 4999,
		Address:     "1 Main St, Springfield",
	}
}
