package rules

import (
	"fmt"
	"log/slog"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/value"
)

// registered is a rule plus the bookkeeping the manager keeps per index.
type registered struct {
	index int
	def   Def
	key   string // content-based identity (value.RuleKey)

	// lastRun is the clock stamp taken at the start of the most recent
	// execution. Zero means the rule has never run.
	lastRun int64

	// prev is the previous-message snapshot: the messages the rule
	// produced on its most recent execution. Captured immediately before
	// each re-execution and retained across runs; FlagMessages and
	// FlagNoMessages compare its length against zero.
	prev []props.Message

	hasRun bool
}

// pendingRun is a superseded-run slot: the latest Run request for a
// trigger property received while another run was in flight.
type pendingRun struct {
	trigger string
	flags   Flags
}

// Manager owns the rule set of one entity instance.
//
// Rules are keyed by a unique index assigned in registration order,
// starting at 1, with no gaps or reuse. Peers that must correlate
// messages with this manager must register rules through an identical
// construction sequence (see the wire package).
//
// Manager has no internal synchronization; see the props package
// documentation for the single-flow contract.
type Manager struct {
	state *props.State
	clock *Clock

	rules     []*registered
	byTag     map[string]int
	byKey     map[string]int
	byTrigger map[string][]int

	running bool
	pending []pendingRun

	// onBusyChange is invoked whenever property busy state may have
	// changed. The owning entity node uses it to recompute aggregate busy.
	onBusyChange func()
}

// NewManager creates a rule manager over the given property state.
func NewManager(state *props.State) *Manager {
	return &Manager{
		state:     state,
		clock:     NewClock(),
		byTag:     make(map[string]int),
		byKey:     make(map[string]int),
		byTrigger: make(map[string][]int),
	}
}

// Register assigns the next sequential index to the rule, records it
// under that index, and adds the index to each trigger property's rule
// set. Returns the assigned index.
//
// Registering a definition whose tag is already registered fails with a
// DUPLICATE_REGISTRATION error. Malformed definitions (empty tag, no
// evaluate function, no triggers, unknown trigger property) fail with
// INVALID_REGISTRATION.
func (m *Manager) Register(def Def) (int, error) {
	if def.Tag == "" {
		return 0, &RuntimeError{Code: ErrCodeInvalidRegistration, Message: "empty rule tag"}
	}
	if def.Evaluate == nil {
		return 0, &RuntimeError{Code: ErrCodeInvalidRegistration, Message: "nil evaluate function", Tag: def.Tag}
	}
	if len(def.Triggers) == 0 {
		return 0, &RuntimeError{Code: ErrCodeInvalidRegistration, Message: "no trigger properties", Tag: def.Tag}
	}
	for _, trigger := range def.Triggers {
		if !m.state.Has(trigger) {
			return 0, &RuntimeError{
				Code:    ErrCodeInvalidRegistration,
				Message: fmt.Sprintf("trigger %q is not a property of this entity", trigger),
				Tag:     def.Tag,
			}
		}
	}
	if existing, dup := m.byTag[def.Tag]; dup {
		return 0, NewDuplicateRegistrationError(def.Tag, existing)
	}

	key, err := value.RuleKey(def.Tag, def.Triggers)
	if err != nil {
		return 0, &RuntimeError{Code: ErrCodeInvalidRegistration, Message: err.Error(), Tag: def.Tag}
	}

	index := len(m.rules) + 1
	m.rules = append(m.rules, &registered{index: index, def: def, key: key})
	m.byTag[def.Tag] = index
	m.byKey[key] = index
	for _, trigger := range def.Triggers {
		m.byTrigger[trigger] = append(m.byTrigger[trigger], index)
	}

	slog.Debug("rule registered",
		"tag", def.Tag,
		"index", index,
		"triggers", def.Triggers,
	)

	return index, nil
}

// Count returns the number of registered rules.
func (m *Manager) Count() int {
	return len(m.rules)
}

// State returns the property state this manager writes into.
func (m *Manager) State() *props.State {
	return m.state
}

// Clock returns the manager's logical clock.
// The owning node stamps property mutations and journal batches with it.
func (m *Manager) Clock() *Clock {
	return m.clock
}

// SetBusyObserver registers the callback invoked whenever property busy
// state may have changed. The owning entity node uses it to recompute and
// propagate aggregate busy state.
func (m *Manager) SetBusyObserver(fn func()) {
	m.onBusyChange = fn
}

// SetValue mutates a property, stamping the change with the manager's
// logical clock so affected rules see it as changed since their last run.
//
// SetValue does not run rules; callers invoke Run after every
// externally-visible mutation.
func (m *Manager) SetValue(name string, v value.Value) error {
	return m.state.Set(name, v, m.clock.Next())
}

// IndexByKey resolves a content-based rule key to the local unique index.
func (m *Manager) IndexByKey(key string) (int, bool) {
	idx, ok := m.byKey[key]
	return idx, ok
}

// IndexByTag resolves a rule tag to the local unique index.
func (m *Manager) IndexByTag(tag string) (int, bool) {
	idx, ok := m.byTag[tag]
	return idx, ok
}

// KeyOf returns the content-based identity of the rule at index.
func (m *Manager) KeyOf(index int) (string, bool) {
	if index < 1 || index > len(m.rules) {
		return "", false
	}
	return m.rules[index-1].key, true
}

// TagOf returns the tag of the rule at index.
func (m *Manager) TagOf(index int) (string, bool) {
	if index < 1 || index > len(m.rules) {
		return "", false
	}
	return m.rules[index-1].def.Tag, true
}

// PreviousMessageCount returns the size of the rule's previous-message
// snapshot. Used for diagnostics and tests.
func (m *Manager) PreviousMessageCount(index int) (int, bool) {
	if index < 1 || index > len(m.rules) {
		return 0, false
	}
	return len(m.rules[index-1].prev), true
}

// ApplyExternal applies messages produced by a peer manager under the
// given local index, exactly as if this manager had produced them:
// replacing prior messages owned by that index and refreshing the rule's
// previous-message snapshot.
//
// If the index has no local registration the messages are not applied and
// a CORRELATION_MISMATCH error is returned. Callers applying a batch
// should report the mismatch and continue with remaining records rather
// than abort (see the wire package).
func (m *Manager) ApplyExternal(index int, msgs []props.Message) error {
	if index < 1 || index > len(m.rules) {
		return NewCorrelationMismatchError(index, "")
	}

	stamped := make([]props.Message, len(msgs))
	for i, msg := range msgs {
		msg.RuleIndex = index
		stamped[i] = msg
	}
	if err := m.state.ReplaceMessagesFor(index, stamped); err != nil {
		return fmt.Errorf("apply external messages for index %d: %w", index, err)
	}

	r := m.rules[index-1]
	r.prev = stamped
	r.hasRun = true
	return nil
}
