// Package props implements per-property runtime state for an entity:
// the current value, busy flags, change tracking, and the ordered bag of
// rule messages each property carries.
//
// CONCURRENCY CONTRACT:
//
// A State has NO internal synchronization. The runtime assumes a single
// logical flow of control operates on one entity instance at a time - one
// request-handling flow or one event handler's continuation chain, never
// two concurrently-executing flows touching the same instance. Between
// suspension points (rule executions, lazy loads), mutation is atomic with
// respect to that single flow.
//
// This is a caller discipline, not a runtime guarantee. Do not wrap
// individual fields in locks: either the whole entity is synchronized by
// the caller, or not at all. Partial locking (protecting some fields but
// not semantically related ones) gives the appearance of safety without
// the substance and is deliberately absent here.
package props
