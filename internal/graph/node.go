package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/armaturedev/armature/internal/lazy"
	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
	"github.com/armaturedev/armature/internal/value"
)

// IDGenerator produces node identifiers. The production generator
// yields time-ordered UUIDs; tests substitute a fixed sequence.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates RFC 9562 version 7 UUIDs, which sort by
// creation time.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Change describes one externally visible transition on a node. A
// property mutation carries the property name and its message bag; a
// pure busy transition (a rule starting or finishing, a lazy load, a
// child flip) carries an empty Property and nil Messages.
type Change struct {
	NodeID   string
	Property string
	Busy     bool
	Messages []props.Message
}

// Node is one entity in the graph.
type Node struct {
	id       string
	name     string
	parent   *Node
	children []*Node

	state *props.State
	rules *rules.Manager

	loads    []lazy.Source
	modified bool
	aggBusy  bool

	onChange func(Change)
}

// New builds a detached node for the named entity over the given
// property table. Rule executions on the node feed its busy state.
func New(name string, state *props.State, gen IDGenerator) *Node {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	n := &Node{
		id:    gen.Generate(),
		name:  name,
		state: state,
		rules: rules.NewManager(state),
	}
	n.rules.SetBusyObserver(n.recomputeBusy)
	return n
}

func (n *Node) ID() string   { return n.id }
func (n *Node) Name() string { return n.name }

// Parent returns the current owner, or nil for a root or detached
// node.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child collection in attachment order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Root walks the parent chain to the top of the tree.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// State exposes the node's property table.
func (n *Node) State() *props.State { return n.state }

// Rules exposes the node's rule manager for registration and
// correlation.
func (n *Node) Rules() *rules.Manager { return n.rules }

// SetChangeObserver installs the notification sink for this node.
// Passing nil removes it.
func (n *Node) SetChangeObserver(fn func(Change)) { n.onChange = fn }

// SetProperty writes a property, runs the rules it triggers, and
// emits a change notification carrying the property's resulting
// message bag. A rule fault is returned after the notification; the
// written value and any messages produced before the fault stand.
func (n *Node) SetProperty(ctx context.Context, name string, v value.Value) error {
	if err := n.rules.SetValue(name, v); err != nil {
		return err
	}
	n.modified = true
	runErr := n.rules.Run(ctx, name, 0)
	n.recomputeBusy()
	n.emit(Change{
		NodeID:   n.id,
		Property: name,
		Busy:     n.aggBusy,
		Messages: n.state.Messages(name),
	})
	return runErr
}

// RunRules re-evaluates rules without mutating a property, for
// example after attaching a subtree or applying external messages.
func (n *Node) RunRules(ctx context.Context, trigger string, flags rules.Flags) error {
	err := n.rules.Run(ctx, trigger, flags)
	n.recomputeBusy()
	return err
}

// SetPropertyBusy pins or clears the busy flag on one property and
// propagates the aggregate. Pinning is how domain operations mark a
// property as awaiting an out-of-band result.
func (n *Node) SetPropertyBusy(name string, busy bool) error {
	if !n.state.Has(name) {
		return fmt.Errorf("%s: %w", name, props.ErrUnknownProperty)
	}
	n.state.SetSelfBusy(name, busy)
	n.recomputeBusy()
	return nil
}

// TrackLoading registers a lazy source whose loading state counts
// toward the node's self-busy.
func (n *Node) TrackLoading(src lazy.Source) {
	n.loads = append(n.loads, src)
}

// BindLazy tracks the lazy value on the node and wires its state
// transitions into busy recomputation.
func BindLazy[T any](n *Node, v *lazy.Value[T]) {
	n.TrackLoading(v)
	v.Observe(n.recomputeBusy)
}

// IsSelfBusy reports whether the node itself is working: a rule in
// flight, a pinned busy flag, or a tracked lazy load.
func (n *Node) IsSelfBusy() bool {
	if n.state.AnyBusy() {
		return true
	}
	for _, src := range n.loads {
		if src.IsLoading() {
			return true
		}
	}
	return false
}

// IsBusy reports the aggregate: self-busy or any busy descendant.
func (n *Node) IsBusy() bool { return n.aggBusy }

// IsModified reports whether this node or any descendant has been
// written since construction.
func (n *Node) IsModified() bool {
	if n.modified {
		return true
	}
	for _, c := range n.children {
		if c.IsModified() {
			return true
		}
	}
	return false
}

// MarkClean clears the modified flag on the subtree, typically after
// a successful save.
func (n *Node) MarkClean() {
	n.modified = false
	for _, c := range n.children {
		c.MarkClean()
	}
}

// Messages aggregates rule messages across the subtree: this node's
// bags in declaration order, then each child's subtree in attachment
// order.
func (n *Node) Messages() []props.Message {
	out := append([]props.Message(nil), n.state.AllMessages()...)
	for _, c := range n.children {
		out = append(out, c.Messages()...)
	}
	return out
}

// IsValid reports whether no error-severity message exists anywhere
// in the subtree.
func (n *Node) IsValid() bool {
	if !n.state.IsValid() {
		return false
	}
	for _, c := range n.children {
		if !c.IsValid() {
			return false
		}
	}
	return true
}

// recomputeBusy refreshes the aggregate flag and propagates upward.
// Propagation stops at the first ancestor whose aggregate did not
// change.
func (n *Node) recomputeBusy() {
	agg := n.IsSelfBusy()
	if !agg {
		for _, c := range n.children {
			if c.aggBusy {
				agg = true
				break
			}
		}
	}
	if agg == n.aggBusy {
		return
	}
	n.aggBusy = agg
	slog.Debug("busy transition", "node", n.id, "entity", n.name, "busy", agg)
	n.emit(Change{NodeID: n.id, Busy: agg})
	if n.parent != nil {
		n.parent.recomputeBusy()
	}
}

func (n *Node) emit(c Change) {
	if n.onChange != nil {
		n.onChange(c)
	}
}
