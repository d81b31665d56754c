// Package sagaflow provides an in-process saga orchestrator.
//
// A saga is an ordered list of steps spanning independent services. Each
// step has a forward action and a compensation that semantically undoes
// it. The orchestrator runs the steps one at a time, threading a
// caller-defined context value through them. If a step fails, every step
// that completed before it is compensated in reverse order.
//
// Overview
//
//  1. Define your steps:
//     - Implement the Step interface, or use NewStep with an execute and a
//       compensate function.
//     - Harden calls to remote dependencies inside a step with the retry
//       and breaker packages.
//  2. Create a Registry with NewRegistry. The registry is owned by the
//     application root and keeps running and recently finished sagas
//     queryable for the retention window.
//  3. Create an Orchestrator with NewOrchestrator, passing the registry
//     and optionally a zap logger and event listeners (see the observe
//     package).
//  4. Run a saga with Execute and inspect the returned SagaState. A failed
//     saga is not an error: it comes back with status SagaCompensated and
//     per-step errors.
//
// Example:
//
//	registry := sagaflow.NewRegistry[*Order]()
//	defer registry.Close()
//
//	orch := sagaflow.NewOrchestrator(registry, sagaflow.WithLogger(logger))
//	state, err := orch.Execute(ctx, "checkout", []sagaflow.Step[*Order]{
//		reserveInventory, chargePayment, createShipment,
//	}, order)
//	if err != nil {
//		// programmer or bookkeeping defect
//	}
//	if state.Status != sagaflow.SagaCompleted {
//		// rolled back; state.CompensationFailures() lists manual work
//	}
package sagaflow
