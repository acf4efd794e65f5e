package rules

import "strings"

// Flags scope which rules a Run request selects.
//
// FlagTriggerProperty and FlagSelf scope eligibility by trigger-set
// membership. FlagAll selects every rule on the entity and forces
// re-evaluation even when no tracked trigger changed.
//
// FlagMessages and FlagNoMessages filter on the rule's previous-message
// count: the snapshot of messages the rule produced on its most recent
// execution, captured immediately before each re-execution and retained
// across runs. FlagMessages selects only rules whose snapshot is
// non-empty; FlagNoMessages only rules whose snapshot is empty. Setting
// both selects nothing.
type Flags uint8

const (
	// FlagTriggerProperty selects rules whose trigger set contains the
	// run's trigger property. This is the default when no scoping flag
	// is set.
	FlagTriggerProperty Flags = 1 << iota

	// FlagSelf narrows selection to rules whose primary property (first
	// trigger) is the run's trigger property.
	FlagSelf

	// FlagAll selects every registered rule and forces re-evaluation.
	FlagAll

	// FlagMessages selects only rules that produced at least one message
	// on their most recent execution.
	FlagMessages

	// FlagNoMessages selects only rules that produced no messages on
	// their most recent execution.
	FlagNoMessages
)

// Has reports whether all bits of q are set.
func (f Flags) Has(q Flags) bool {
	return f&q == q
}

// String renders the flag set for logs and diagnostics.
func (f Flags) String() string {
	if f == 0 {
		return "trigger_property"
	}
	var parts []string
	if f.Has(FlagTriggerProperty) {
		parts = append(parts, "trigger_property")
	}
	if f.Has(FlagSelf) {
		parts = append(parts, "self")
	}
	if f.Has(FlagAll) {
		parts = append(parts, "all")
	}
	if f.Has(FlagMessages) {
		parts = append(parts, "messages")
	}
	if f.Has(FlagNoMessages) {
		parts = append(parts, "no_messages")
	}
	return strings.Join(parts, "|")
}
