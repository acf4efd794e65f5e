package rules

import (
	"context"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/value"
)

// View is the read-only surface a rule sees during evaluation.
// *props.State satisfies it. Rules must not mutate entity state; they
// observe values and produce messages.
type View interface {
	Get(name string) (value.Value, error)
}

// Func evaluates a rule against the current property values and returns
// zero or more messages.
//
// The RuleIndex field of returned messages is ignored; the manager stamps
// each message with the rule's assigned index before it reaches a bag.
// Rules therefore never learn their own index, and no partially-constructed
// rule state exists between registration and first run.
//
// Returning an error (or panicking) is an engine-level fault, not a
// validation outcome: it aborts the current run and is surfaced to the
// caller of Run. Report invalid data as messages instead.
type Func func(ctx context.Context, view View) ([]props.Message, error)

// Def is a rule definition: a stable tag, the trigger-property set, and
// the evaluation function.
//
// The tag is the rule's identity within a manager; registering two
// definitions with the same tag is a duplicate registration. The tag also
// feeds the content-based wire identity (value.RuleKey), so it should be
// stable across code versions.
//
// Triggers lists the properties whose change makes the rule eligible to
// re-run. The first trigger is the rule's primary property, used by
// FlagSelf scoping.
type Def struct {
	Tag      string
	Triggers []string
	Evaluate Func
}

// Primary returns the rule's primary property (the first trigger),
// or "" when the definition carries no triggers.
func (d Def) Primary() string {
	if len(d.Triggers) == 0 {
		return ""
	}
	return d.Triggers[0]
}
