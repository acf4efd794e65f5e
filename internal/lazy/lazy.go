// Package lazy implements an explicit-load deferred value holder.
//
// A Value is a four-state machine:
//
//	Unloaded -> Loading -> {Loaded | Failed}
//	Failed   -> Unloaded (explicit Reset only)
//
// Loaded and Failed are terminal for a given load attempt. Reads never
// initiate a load; loading is always explicit, and concurrent Load calls
// collapse into a single loader invocation.
//
// Unlike the rest of the runtime, lazy synchronizes internally: its
// contract explicitly promises concurrent-caller collapse, and the holder
// is self-contained, so the synchronization cannot degrade into the
// partial-field locking the entity packages forbid.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State identifies the lifecycle position of a Value.
type State int

const (
	// Unloaded means no load has been attempted (or a failure was reset).
	Unloaded State = iota
	// Loading means a load is in flight.
	Loading
	// Loaded means the value is available. Terminal for this attempt.
	Loaded
	// Failed means the load errored; the error is retained. Terminal
	// until an explicit Reset.
	Failed
)

// String renders the state for logs and diagnostics.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotResettable is returned by Reset outside the Failed state.
var ErrNotResettable = errors.New("lazy: reset is only valid in the failed state")

// Loader produces the deferred value.
type Loader[T any] func(ctx context.Context) (T, error)

// Source is the state surface an owning entity node observes for busy
// aggregation, independent of the value's type parameter.
type Source interface {
	IsLoading() bool
}

// Value is a deferred value holder with explicit load semantics.
type Value[T any] struct {
	mu       sync.Mutex
	state    State
	val      T
	err      error
	loader   Loader[T]
	inflight chan struct{} // closed when the in-flight load settles

	// observers are notified (outside the lock) after every state
	// transition; the owning entity node hooks busy aggregation here.
	observers []func()
}

// New creates an Unloaded holder around the given loader.
func New[T any](loader Loader[T]) *Value[T] {
	if loader == nil {
		panic("lazy: nil loader")
	}
	return &Value[T]{loader: loader}
}

// Observe registers a callback invoked after every state transition.
// Not safe to call concurrently with Load; register at construction time.
func (v *Value[T]) Observe(fn func()) {
	v.observers = append(v.observers, fn)
}

// Get returns the current value and whether it is present.
// Pure read: never initiates a load, never changes state.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Loaded {
		var zero T
		return zero, false
	}
	return v.val, true
}

// Err returns the retained error when in the Failed state.
func (v *Value[T]) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Failed {
		return nil
	}
	return v.err
}

// StateNow returns the current lifecycle state.
func (v *Value[T]) StateNow() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// IsLoaded reports whether the value is available. Pure read.
func (v *Value[T]) IsLoaded() bool {
	return v.StateNow() == Loaded
}

// IsLoading reports whether a load is in flight. Pure read.
// Contributes to the owning entity's self-busy flag.
func (v *Value[T]) IsLoading() bool {
	return v.StateNow() == Loading
}

// Load transitions Unloaded or Failed into Loading, invokes the loader,
// and settles into Loaded or Failed.
//
// If a load is already in flight, Load does not start a second one: it
// waits for the same in-flight operation and returns its outcome. If the
// value is already Loaded, the cached value is returned without invoking
// the loader; use Reload to bypass the cache.
//
// A caller's context cancellation stops that caller from consuming the
// result; it does not abort the shared load for other waiters.
func (v *Value[T]) Load(ctx context.Context) (T, error) {
	v.mu.Lock()
	switch v.state {
	case Loaded:
		val := v.val
		v.mu.Unlock()
		return val, nil
	case Loading:
		done := v.inflight
		v.mu.Unlock()
		return v.wait(ctx, done)
	}

	// Unloaded or Failed: this caller starts the load.
	done := make(chan struct{})
	v.state = Loading
	v.err = nil
	v.inflight = done
	v.mu.Unlock()
	v.notify()

	val, err := v.loader(ctx)

	v.mu.Lock()
	if err != nil {
		var zero T
		v.state = Failed
		v.val = zero
		v.err = err
	} else {
		v.state = Loaded
		v.val = val
		v.err = nil
	}
	v.inflight = nil
	v.mu.Unlock()
	close(done)
	v.notify()

	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// wait blocks a follower caller until the shared load settles.
func (v *Value[T]) wait(ctx context.Context, done chan struct{}) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-done:
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Loaded {
		return v.val, nil
	}
	var zero T
	return zero, v.err
}

// Reset returns Failed to Unloaded to permit a retry.
// Absent in the Loaded state: refreshing a loaded value is an explicit
// Reload, never a repeated Load.
func (v *Value[T]) Reset() error {
	v.mu.Lock()
	if v.state != Failed {
		v.mu.Unlock()
		return fmt.Errorf("%w (state=%s)", ErrNotResettable, v.state)
	}
	var zero T
	v.state = Unloaded
	v.val = zero
	v.err = nil
	v.mu.Unlock()
	v.notify()
	return nil
}

// Reload bypasses the Loaded cache and performs a fresh load attempt.
// In Unloaded or Failed it behaves like Load; if a load is already in
// flight it joins it rather than starting a competing one.
func (v *Value[T]) Reload(ctx context.Context) (T, error) {
	v.mu.Lock()
	switch v.state {
	case Loading:
		done := v.inflight
		v.mu.Unlock()
		return v.wait(ctx, done)
	case Loaded, Failed:
		var zero T
		v.state = Unloaded
		v.val = zero
		v.err = nil
	}
	v.mu.Unlock()
	v.notify()
	return v.Load(ctx)
}

func (v *Value[T]) notify() {
	for _, fn := range v.observers {
		fn()
	}
}
