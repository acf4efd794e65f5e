package props

import (
	"errors"
	"fmt"

	"github.com/armaturedev/armature/internal/value"
)

// ErrUnknownProperty is returned when an operation names a property the
// entity was not constructed with.
var ErrUnknownProperty = errors.New("unknown property")

// Property holds the runtime state of one entity property.
type Property struct {
	name string

	// value is the current property value. Never nil; unset is value.Null.
	value value.Value

	// selfBusy is true while a rule is executing directly because of this
	// property.
	selfBusy bool

	// inflight counts asynchronous rule executions triggered by this
	// property that have not completed.
	inflight int

	// changedSeq is the logical clock stamp of the last mutation.
	// Zero means never mutated since construction.
	changedSeq int64

	// messages is the ordered bag of current rule messages targeting this
	// property. Replacement is by rule index, never by content.
	messages []Message
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// State is the property table of one entity instance.
//
// Properties are created at construction and live for the entity's
// lifetime. Iteration order is declaration order, which keeps message
// aggregation and trace output deterministic.
//
// State has no internal synchronization - see the package documentation
// for the single-flow contract.
type State struct {
	names  []string
	byName map[string]*Property
}

// NewState creates a property table with the given property names, all
// initialized to value.Null. Duplicate names are rejected.
func NewState(names ...string) (*State, error) {
	s := &State{
		names:  make([]string, 0, len(names)),
		byName: make(map[string]*Property, len(names)),
	}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("empty property name")
		}
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("duplicate property %q", name)
		}
		p := &Property{name: name, value: value.Null{}}
		s.names = append(s.names, name)
		s.byName[name] = p
	}
	return s, nil
}

// MustNewState is like NewState but panics on error.
// Use only in tests or when names are known to be valid.
func MustNewState(names ...string) *State {
	s, err := NewState(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Names returns the property names in declaration order.
// The returned slice is shared; callers must not mutate it.
func (s *State) Names() []string { return s.names }

// Has reports whether the entity owns the named property.
func (s *State) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Set mutates a property value and stamps it with the given change
// sequence from the owning manager's logical clock.
func (s *State) Set(name string, v value.Value, seq int64) error {
	p, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("set %q: %w", name, ErrUnknownProperty)
	}
	if v == nil {
		v = value.Null{}
	}
	p.value = v
	p.changedSeq = seq
	return nil
}

// Get returns the current value of a property.
// Unset properties return value.Null, not nil.
func (s *State) Get(name string) (value.Value, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, ErrUnknownProperty)
	}
	return p.value, nil
}

// ChangedSeq returns the logical clock stamp of the property's last
// mutation, or zero if it has never been mutated.
func (s *State) ChangedSeq(name string) int64 {
	if p, ok := s.byName[name]; ok {
		return p.changedSeq
	}
	return 0
}

// SetSelfBusy marks or clears the self-busy flag of a property.
func (s *State) SetSelfBusy(name string, busy bool) {
	if p, ok := s.byName[name]; ok {
		p.selfBusy = busy
	}
}

// IsSelfBusy reports whether a rule is executing directly because of the
// named property.
func (s *State) IsSelfBusy(name string) bool {
	p, ok := s.byName[name]
	return ok && p.selfBusy
}

// BeginRun records an asynchronous rule execution triggered by the named
// property. Paired with EndRun.
func (s *State) BeginRun(name string) {
	if p, ok := s.byName[name]; ok {
		p.inflight++
	}
}

// EndRun records completion of an asynchronous rule execution triggered
// by the named property.
func (s *State) EndRun(name string) {
	if p, ok := s.byName[name]; ok && p.inflight > 0 {
		p.inflight--
	}
}

// IsBusy reports the aggregate busy state of one property: self-busy, or
// an asynchronous rule triggered by it has not completed.
func (s *State) IsBusy(name string) bool {
	p, ok := s.byName[name]
	return ok && (p.selfBusy || p.inflight > 0)
}

// AnyBusy reports whether any property of this entity is busy.
// This feeds the owning entity node's self-busy flag.
func (s *State) AnyBusy() bool {
	for _, name := range s.names {
		p := s.byName[name]
		if p.selfBusy || p.inflight > 0 {
			return true
		}
	}
	return false
}

// ReplaceMessagesFor supersedes all messages owned by ruleIndex with the
// given replacement set, across every property bag.
//
// Replacement is idempotent: applying the same set twice leaves one copy.
// Messages owned by other rule indices are never touched. Replacement
// messages naming a property the entity does not own are rejected, and
// the bag is left unchanged.
func (s *State) ReplaceMessagesFor(ruleIndex int, msgs []Message) error {
	for _, m := range msgs {
		if !s.Has(m.Property) {
			return fmt.Errorf("message for rule %d: %w: %q", ruleIndex, ErrUnknownProperty, m.Property)
		}
		if m.RuleIndex != ruleIndex {
			return fmt.Errorf("message attributed to rule %d cannot be replaced under rule %d", m.RuleIndex, ruleIndex)
		}
	}

	// Remove everything the rule previously owned, in every bag.
	for _, name := range s.names {
		p := s.byName[name]
		kept := p.messages[:0]
		for _, m := range p.messages {
			if m.RuleIndex != ruleIndex {
				kept = append(kept, m)
			}
		}
		p.messages = kept
	}

	// Append the replacement set to each target bag, preserving order.
	for _, m := range msgs {
		p := s.byName[m.Property]
		p.messages = append(p.messages, m)
	}
	return nil
}

// Messages returns an ordered snapshot of one property's message bag.
func (s *State) Messages(name string) []Message {
	p, ok := s.byName[name]
	if !ok {
		return nil
	}
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// AllMessages returns every message in the entity, ordered by property
// declaration order, then bag order.
func (s *State) AllMessages() []Message {
	var out []Message
	for _, name := range s.names {
		out = append(out, s.byName[name].messages...)
	}
	return out
}

// IsValid reports whether no property carries an error-severity message.
// Warnings and informational messages do not affect validity.
func (s *State) IsValid() bool {
	for _, name := range s.names {
		for _, m := range s.byName[name].messages {
			if m.Severity == SeverityError {
				return false
			}
		}
	}
	return true
}
