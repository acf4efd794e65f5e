// Package graph composes entity nodes into a parent-child tree and
// aggregates busy, modified, and message state upward.
//
// Each node wraps one domain entity: a property table (props.State), a
// rule manager (rules.Manager), and an ordered child collection. The
// child holds a back-reference to its parent but does not own it; the
// parent owns the child reference used for traversal.
//
// Aggregate busy invariant, maintained after every mutation and
// propagation:
//
//	IsBusy(node) = IsSelfBusy(node) OR any child IsBusy
//
// where self-busy means a rule is in flight on one of the node's
// properties or a tracked lazy value is loading. Propagation walks
// ancestors and terminates at the first node whose aggregate state is
// unchanged, so a busy flip deep in a large tree never re-walks the
// whole graph.
//
// Attachment is an explicit, two-sided transition: Attach sets the
// child's back-reference and adds it to the parent's collection in one
// step, and Detach clears both sides in one step. A detached node
// answers Parent() == nil immediately; stale back-references do not
// occur.
//
// Nodes have no internal synchronization. The single-flow contract of
// the props package covers the whole tree reachable from a root: one
// logical flow per entity graph.
package graph
