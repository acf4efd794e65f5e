package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/armaturedev/armature/internal/props"
)

// Run resolves the rules associated with triggerProperty (plus every rule
// on the entity when FlagAll is set), filters them per flags, and executes
// them in ascending index order in the caller's flow.
//
// Runs are cooperative, not parallel. A Run issued while another run is in
// flight on this manager (re-entrancy from a rule mutating a property)
// does not execute concurrently: it supersedes any pending request for the
// same trigger property and is drained after the current rule completes.
// Such a superseded request reports no error of its own; faults surface
// from the outermost Run.
//
// A rule that returns an error or panics aborts the invocation with an
// EXECUTION_FAULT; messages already replaced by earlier rules in the same
// invocation remain valid. Skip semantics: a rule is skipped when none of
// its tracked triggers changed since its last run, unless FlagAll forces
// re-evaluation.
func (m *Manager) Run(ctx context.Context, triggerProperty string, flags Flags) error {
	if triggerProperty == "" && !flags.Has(FlagAll) {
		return fmt.Errorf("run: empty trigger property requires FlagAll")
	}
	if triggerProperty != "" && !m.state.Has(triggerProperty) {
		return fmt.Errorf("run %q: %w", triggerProperty, props.ErrUnknownProperty)
	}

	if m.running {
		m.supersede(triggerProperty, flags)
		return nil
	}

	m.running = true
	defer func() {
		m.running = false
		m.pending = nil
	}()

	if err := m.execute(ctx, triggerProperty, flags); err != nil {
		return err
	}

	// Drain requests that arrived while rules were executing.
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		if err := m.execute(ctx, next.trigger, next.flags); err != nil {
			return err
		}
	}
	return nil
}

// supersede records a run request received mid-run. At most one pending
// request exists per trigger property; a newer request replaces it.
func (m *Manager) supersede(trigger string, flags Flags) {
	for i := range m.pending {
		if m.pending[i].trigger == trigger {
			m.pending[i].flags = flags
			slog.Debug("run request superseded",
				"trigger", trigger,
				"flags", flags.String(),
			)
			return
		}
	}
	m.pending = append(m.pending, pendingRun{trigger: trigger, flags: flags})
}

// execute runs one selection pass.
func (m *Manager) execute(ctx context.Context, trigger string, flags Flags) error {
	selected := m.selectRules(trigger, flags)
	if len(selected) == 0 {
		return nil
	}

	slog.Debug("running rules",
		"trigger", trigger,
		"flags", flags.String(),
		"selected", len(selected),
	)

	for _, r := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.skip(r, flags) {
			continue
		}
		if err := m.executeRule(ctx, r, trigger); err != nil {
			return err
		}
	}
	return nil
}

// selectRules resolves eligibility in ascending index order.
func (m *Manager) selectRules(trigger string, flags Flags) []*registered {
	var out []*registered

	if flags.Has(FlagAll) {
		out = append(out, m.rules...)
	} else {
		for _, idx := range m.byTrigger[trigger] {
			r := m.rules[idx-1]
			if flags.Has(FlagSelf) && r.def.Primary() != trigger {
				continue
			}
			out = append(out, r)
		}
	}

	if flags.Has(FlagMessages) || flags.Has(FlagNoMessages) {
		filtered := out[:0]
		for _, r := range out {
			count := len(r.prev)
			if flags.Has(FlagMessages) && count == 0 {
				continue
			}
			if flags.Has(FlagNoMessages) && count > 0 {
				continue
			}
			filtered = append(filtered, r)
		}
		out = filtered
	}
	return out
}

// skip reports whether a rule's re-execution can be elided because no
// tracked trigger changed since its last run. FlagAll forces evaluation.
func (m *Manager) skip(r *registered, flags Flags) bool {
	if flags.Has(FlagAll) || !r.hasRun {
		return false
	}
	for _, trigger := range r.def.Triggers {
		if m.state.ChangedSeq(trigger) > r.lastRun {
			return false
		}
	}
	return true
}

// executeRule runs one rule and replaces its messages.
//
// While the rule executes, the trigger property is self-busy and counted
// in flight; both clear before the busy observer fires for completion, so
// the owning node sees a consistent transition in each direction.
func (m *Manager) executeRule(ctx context.Context, r *registered, trigger string) error {
	startSeq := m.clock.Next()

	if trigger != "" {
		m.state.SetSelfBusy(trigger, true)
		m.state.BeginRun(trigger)
		m.notifyBusy()
	}

	msgs, err := m.safeEvaluate(ctx, r)

	if trigger != "" {
		m.state.SetSelfBusy(trigger, false)
		m.state.EndRun(trigger)
		m.notifyBusy()
	}

	if err != nil {
		slog.Error("rule execution faulted",
			"tag", r.def.Tag,
			"index", r.index,
			"trigger", trigger,
			"error", err,
		)
		return NewExecutionFaultError(r.def.Tag, r.index, err)
	}

	// Previous-message snapshot is captured before the replacement lands,
	// then retained until the rule's next execution.
	stamped := make([]props.Message, len(msgs))
	for i, msg := range msgs {
		msg.RuleIndex = r.index
		if msg.Severity == "" {
			msg.Severity = props.SeverityError
		}
		stamped[i] = msg
	}

	if err := m.state.ReplaceMessagesFor(r.index, stamped); err != nil {
		return NewExecutionFaultError(r.def.Tag, r.index, err)
	}

	r.prev = stamped
	r.lastRun = startSeq
	r.hasRun = true

	slog.Debug("rule executed",
		"tag", r.def.Tag,
		"index", r.index,
		"messages", len(stamped),
	)
	return nil
}

// safeEvaluate invokes the rule function, converting a panic into an
// error so one faulty rule cannot take down the flow.
func (m *Manager) safeEvaluate(ctx context.Context, r *registered) (msgs []props.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			msgs = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.def.Evaluate(ctx, m.state)
}

func (m *Manager) notifyBusy() {
	if m.onBusyChange != nil {
		m.onBusyChange()
	}
}
