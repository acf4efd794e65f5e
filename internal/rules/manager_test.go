package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/value"
)

// noMessages is a rule function that always passes.
func noMessages(ctx context.Context, view View) ([]props.Message, error) {
	return nil, nil
}

// messageOn returns a rule function that always emits one error message
// targeting the given property.
func messageOn(property, text string) Func {
	return func(ctx context.Context, view View) ([]props.Message, error) {
		return []props.Message{
			{Property: property, Severity: props.SeverityError, Text: text},
		}, nil
	}
}

func TestRegister_SequentialIndices(t *testing.T) {
	state := props.MustNewState("a", "b", "c")
	m := NewManager(state)

	for i, tag := range []string{"r1", "r2", "r3", "r4"} {
		idx, err := m.Register(Def{Tag: tag, Triggers: []string{"a"}, Evaluate: noMessages})
		require.NoError(t, err)
		assert.Equal(t, i+1, idx, "indices assigned 1..N in registration order")
	}
	assert.Equal(t, 4, m.Count())
}

func TestRegister_DuplicateTag(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: noMessages})
	require.NoError(t, err)

	_, err = m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: noMessages})
	require.Error(t, err)
	assert.True(t, IsDuplicateRegistration(err))
}

func TestRegister_Invalid(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "", Triggers: []string{"a"}, Evaluate: noMessages})
	require.Error(t, err)

	_, err = m.Register(Def{Tag: "r", Triggers: nil, Evaluate: noMessages})
	require.Error(t, err)

	_, err = m.Register(Def{Tag: "r", Triggers: []string{"ghost"}, Evaluate: noMessages})
	require.Error(t, err)

	_, err = m.Register(Def{Tag: "r", Triggers: []string{"a"}})
	require.Error(t, err)
}

func TestRegister_ContentKeyLookup(t *testing.T) {
	state := props.MustNewState("a", "b")
	m := NewManager(state)

	idx, err := m.Register(Def{Tag: "check", Triggers: []string{"b", "a"}, Evaluate: noMessages})
	require.NoError(t, err)

	key, ok := m.KeyOf(idx)
	require.True(t, ok)
	assert.Equal(t, value.MustRuleKey("check", []string{"a", "b"}), key,
		"content key is trigger-order independent")

	back, ok := m.IndexByKey(key)
	require.True(t, ok)
	assert.Equal(t, idx, back)

	tag, ok := m.TagOf(idx)
	require.True(t, ok)
	assert.Equal(t, "check", tag)
}

func TestRun_TriggerSelection(t *testing.T) {
	// Rules 1,2,3 on properties A,B,A. Trigger A: rules 1 and 3 run,
	// rule 2 does not, and A's bag holds exactly their messages.
	state := props.MustNewState("A", "B")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "r1", Triggers: []string{"A"}, Evaluate: messageOn("A", "from r1")})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "r2", Triggers: []string{"B"}, Evaluate: messageOn("B", "from r2")})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "r3", Triggers: []string{"A"}, Evaluate: messageOn("A", "from r3")})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("A", value.String("x")))
	require.NoError(t, m.Run(context.Background(), "A", 0))

	msgs := state.Messages("A")
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].RuleIndex)
	assert.Equal(t, "from r1", msgs[0].Text)
	assert.Equal(t, 3, msgs[1].RuleIndex)
	assert.Equal(t, "from r3", msgs[1].Text)

	assert.Empty(t, state.Messages("B"), "rule 2 did not run")
}

func TestRun_SelfFlagScopesToPrimary(t *testing.T) {
	state := props.MustNewState("a", "b")
	m := NewManager(state)

	// Primary of r1 is a; r2 merely lists a as a secondary trigger.
	_, err := m.Register(Def{Tag: "r1", Triggers: []string{"a"}, Evaluate: messageOn("a", "primary")})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "r2", Triggers: []string{"b", "a"}, Evaluate: messageOn("b", "secondary")})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", FlagSelf))

	assert.Len(t, state.Messages("a"), 1)
	assert.Empty(t, state.Messages("b"), "secondary-trigger rule excluded by FlagSelf")
}

func TestRun_SkipsUnchangedTriggers(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	runs := 0
	counting := func(ctx context.Context, view View) ([]props.Message, error) {
		runs++
		return nil, nil
	}
	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: counting})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))
	assert.Equal(t, 1, runs)

	// No mutation since the last run: skipped.
	require.NoError(t, m.Run(context.Background(), "a", 0))
	assert.Equal(t, 1, runs)

	// FlagAll forces re-evaluation.
	require.NoError(t, m.Run(context.Background(), "a", FlagAll))
	assert.Equal(t, 2, runs)

	// A fresh mutation makes the rule eligible again.
	require.NoError(t, m.SetValue("a", value.Int(2)))
	require.NoError(t, m.Run(context.Background(), "a", 0))
	assert.Equal(t, 3, runs)
}

func TestRun_MessagesFlagSemantics(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	cleanRuns, dirtyRuns := 0, 0
	clean := func(ctx context.Context, view View) ([]props.Message, error) {
		cleanRuns++
		return nil, nil
	}
	dirty := func(ctx context.Context, view View) ([]props.Message, error) {
		dirtyRuns++
		return []props.Message{{Property: "a", Severity: props.SeverityError, Text: "bad"}}, nil
	}

	_, err := m.Register(Def{Tag: "clean", Triggers: []string{"a"}, Evaluate: clean})
	require.NoError(t, err)
	dirtyIdx, err := m.Register(Def{Tag: "dirty", Triggers: []string{"a"}, Evaluate: dirty})
	require.NoError(t, err)

	// First pass populates the previous-message snapshots.
	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))
	assert.Equal(t, 1, cleanRuns)
	assert.Equal(t, 1, dirtyRuns)

	count, ok := m.PreviousMessageCount(dirtyIdx)
	require.True(t, ok)
	assert.Equal(t, 1, count, "snapshot retained across runs")

	// FlagMessages: only the rule whose snapshot is non-empty re-runs.
	require.NoError(t, m.Run(context.Background(), "a", FlagAll|FlagMessages))
	assert.Equal(t, 1, cleanRuns)
	assert.Equal(t, 2, dirtyRuns)

	// FlagNoMessages: only the rule whose snapshot is empty re-runs.
	require.NoError(t, m.Run(context.Background(), "a", FlagAll|FlagNoMessages))
	assert.Equal(t, 2, cleanRuns)
	assert.Equal(t, 2, dirtyRuns)

	// Contradictory filter selects nothing.
	require.NoError(t, m.Run(context.Background(), "a", FlagAll|FlagMessages|FlagNoMessages))
	assert.Equal(t, 2, cleanRuns)
	assert.Equal(t, 2, dirtyRuns)
}

func TestRun_ReplaceNotAccumulate(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: messageOn("a", "bad")})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))
	require.NoError(t, m.SetValue("a", value.Int(2)))
	require.NoError(t, m.Run(context.Background(), "a", 0))

	assert.Len(t, state.Messages("a"), 1, "second run replaces the first run's messages")
}

func TestRun_FaultAbortsButKeepsPriorMessages(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "ok", Triggers: []string{"a"}, Evaluate: messageOn("a", "kept")})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "broken", Triggers: []string{"a"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		return nil, assert.AnError
	}})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	err = m.Run(context.Background(), "a", 0)
	require.Error(t, err)
	assert.True(t, IsExecutionFault(err))

	msgs := state.Messages("a")
	require.Len(t, msgs, 1, "messages from the rule that ran before the fault remain valid")
	assert.Equal(t, "kept", msgs[0].Text)
}

func TestRun_PanicBecomesExecutionFault(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "panicky", Triggers: []string{"a"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		panic("boom")
	}})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	err = m.Run(context.Background(), "a", 0)
	require.Error(t, err)
	assert.True(t, IsExecutionFault(err))
	assert.Contains(t, err.Error(), "EXECUTION_FAULT")
}

func TestRun_SelfBusyDuringExecution(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	var busyDuring bool
	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		busyDuring = state.IsSelfBusy("a")
		return nil, nil
	}})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))

	assert.True(t, busyDuring, "trigger property is self-busy while its rule executes")
	assert.False(t, state.IsSelfBusy("a"), "self-busy clears after the run")
	assert.False(t, state.IsBusy("a"))
}

func TestRun_BusyObserverSeesTransitions(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	var observed []bool
	m.SetBusyObserver(func() {
		observed = append(observed, state.AnyBusy())
	})

	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: noMessages})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))

	require.Len(t, observed, 2)
	assert.True(t, observed[0], "observer fires with busy set at rule start")
	assert.False(t, observed[1], "observer fires with busy cleared at rule end")
}

func TestRun_ReentrantRequestIsCooperative(t *testing.T) {
	// A rule that mutates another property and requests a run for it.
	// The nested request must not execute concurrently: it drains after
	// the current rule completes.
	state := props.MustNewState("a", "b")
	m := NewManager(state)

	var order []string
	_, err := m.Register(Def{Tag: "on-a", Triggers: []string{"a"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		order = append(order, "a-begin")
		require.NoError(t, m.SetValue("b", value.Int(99)))
		require.NoError(t, m.Run(ctx, "b", 0), "nested request is accepted, not executed inline")
		order = append(order, "a-end")
		return nil, nil
	}})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "on-b", Triggers: []string{"b"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		order = append(order, "b-run")
		return nil, nil
	}})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))

	assert.Equal(t, []string{"a-begin", "a-end", "b-run"}, order)
}

func TestRun_PendingRequestSuperseded(t *testing.T) {
	// Two nested requests for the same property collapse into one pass
	// carrying the newest flags.
	state := props.MustNewState("a", "b")
	m := NewManager(state)

	bRuns := 0
	_, err := m.Register(Def{Tag: "on-a", Triggers: []string{"a"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		require.NoError(t, m.SetValue("b", value.Int(1)))
		require.NoError(t, m.Run(ctx, "b", 0))
		require.NoError(t, m.Run(ctx, "b", 0))
		return nil, nil
	}})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "on-b", Triggers: []string{"b"}, Evaluate: func(ctx context.Context, view View) ([]props.Message, error) {
		bRuns++
		return nil, nil
	}})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))

	assert.Equal(t, 1, bRuns, "superseded request does not run twice")
}

func TestRun_UnknownTrigger(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	err := m.Run(context.Background(), "ghost", 0)
	require.ErrorIs(t, err, props.ErrUnknownProperty)
}

func TestApplyExternal_ReplacesOwnedMessagesOnly(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "r1", Triggers: []string{"a"}, Evaluate: messageOn("a", "local r1")})
	require.NoError(t, err)
	_, err = m.Register(Def{Tag: "r2", Triggers: []string{"a"}, Evaluate: messageOn("a", "local r2")})
	require.NoError(t, err)

	require.NoError(t, m.SetValue("a", value.Int(1)))
	require.NoError(t, m.Run(context.Background(), "a", 0))
	require.Len(t, state.Messages("a"), 2)

	// Peer-produced messages for rule 1 replace exactly rule 1's slot.
	require.NoError(t, m.ApplyExternal(1, []props.Message{
		{Property: "a", Severity: props.SeverityWarning, Text: "remote r1"},
	}))

	msgs := state.Messages("a")
	require.Len(t, msgs, 2)
	assert.Equal(t, "local r2", msgs[0].Text)
	assert.Equal(t, "remote r1", msgs[1].Text)
	assert.Equal(t, 1, msgs[1].RuleIndex)

	count, ok := m.PreviousMessageCount(1)
	require.True(t, ok)
	assert.Equal(t, 1, count, "external application refreshes the snapshot")
}

func TestApplyExternal_UnknownIndex(t *testing.T) {
	state := props.MustNewState("a")
	m := NewManager(state)

	_, err := m.Register(Def{Tag: "r", Triggers: []string{"a"}, Evaluate: noMessages})
	require.NoError(t, err)

	err = m.ApplyExternal(7, []props.Message{
		{Property: "a", Severity: props.SeverityError, Text: "stray"},
	})
	require.Error(t, err)
	assert.True(t, IsCorrelationMismatch(err))
	assert.Empty(t, state.Messages("a"), "mismatched message never lands in a bag")
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "trigger_property", Flags(0).String())
	assert.Equal(t, "all|messages", (FlagAll | FlagMessages).String())
}
