package graph

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrAlreadyAttached is returned when attaching a node that has a
	// parent. Detach first.
	ErrAlreadyAttached = errors.New("node already attached")

	// ErrNotAChild is returned when detaching a node from a parent
	// that does not own it.
	ErrNotAChild = errors.New("node is not a child of this parent")

	// ErrCycle is returned when an attachment would make a node its
	// own ancestor.
	ErrCycle = errors.New("attachment would create a cycle")
)

// Attach adds child to n's collection and sets the child's parent
// back-reference as one transition. The parent's aggregate busy is
// recomputed immediately, so attaching a busy subtree is visible to
// ancestors before Attach returns. The parent counts as modified.
func (n *Node) Attach(child *Node) error {
	if child.parent != nil {
		return fmt.Errorf("attach %s to %s: %w", child.id, n.id, ErrAlreadyAttached)
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return fmt.Errorf("attach %s to %s: %w", child.id, n.id, ErrCycle)
		}
	}
	child.parent = n
	n.children = append(n.children, child)
	n.modified = true
	slog.Debug("attach", "parent", n.id, "child", child.id, "entity", child.name)
	n.recomputeBusy()
	return nil
}

// Detach removes child from n's collection and clears its parent
// back-reference as one transition. The detached node answers
// Parent() == nil immediately; the former parent's aggregate busy is
// recomputed without the departed subtree.
func (n *Node) Detach(child *Node) error {
	at := -1
	for i, c := range n.children {
		if c == child {
			at = i
			break
		}
	}
	if at < 0 {
		return fmt.Errorf("detach %s from %s: %w", child.id, n.id, ErrNotAChild)
	}
	n.children = append(n.children[:at], n.children[at+1:]...)
	child.parent = nil
	n.modified = true
	slog.Debug("detach", "parent", n.id, "child", child.id, "entity", child.name)
	n.recomputeBusy()
	return nil
}
