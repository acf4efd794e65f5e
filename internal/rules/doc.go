// Package rules implements the per-entity rule manager: registration,
// dependency-triggered scheduling, and message production.
//
// ARCHITECTURE:
//
// Cooperative single-flow scheduling:
// The manager executes rules in the caller's flow, one at a time. There is
// no worker pool and no parallel evaluation against one entity. A Run
// request issued while another run is already in flight (re-entrancy from a
// rule mutating a property) does not execute concurrently: it is recorded
// as the pending request for its trigger property, superseding any earlier
// pending request for the same property, and drained after the current
// rule completes.
//
// Identity:
// Each rule receives a unique index at registration - a monotonically
// increasing integer starting at 1, assigned in registration order. Indices
// are never reused. The index carries no semantic identity across code
// versions; it is stable only within one process's registration sequence.
// Alongside the ordinal index, the manager derives a content key from the
// rule's tag and sorted trigger set (value.RuleKey) for deployments that
// cannot guarantee identical registration sequences across peers.
//
// Determinism:
// Rules selected for a run execute in ascending index order. Message
// replacement for a given index is last-write-wins in execution order
// within one flow; across flows it is undefined and the caller's
// responsibility to avoid (see the props package documentation for the
// single-flow contract).
//
// Validation outcomes are never errors: a rule reports invalid data as
// messages. An error (or panic) escaping a rule is an engine-level
// execution fault that aborts the current run.
package rules
