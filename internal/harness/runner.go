package harness

import (
	"context"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/armaturedev/armature/internal/graph"
	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
	"github.com/armaturedev/armature/internal/schema"
	"github.com/armaturedev/armature/internal/value"
)

// TraceEvent is one entry in a scenario trace. A "set" or "run_all"
// event records the action; the following "state" event records the
// observable outcome.
type TraceEvent struct {
	Type     string          `json:"type"` // "set", "run_all" or "state"
	Property string          `json:"property,omitempty"`
	Value    string          `json:"value,omitempty"` // JSON text of the written value
	Seq      int64           `json:"seq"`
	Messages []props.Message `json:"messages,omitempty"`
	Valid    bool            `json:"valid,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and
	// assertion matched.
	Pass bool `json:"pass"`

	// Trace contains the actions and resulting states in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass.
	Errors []string `json:"errors,omitempty"`

	// Node is the entity after the final step, for direct inspection.
	Node *graph.Node `json:"-"`
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// fixedID pins the node identifier so traces are reproducible.
type fixedID string

func (g fixedID) Generate() string { return string(g) }

// Run executes a scenario: compile the entity, apply the steps in
// order, evaluate the assertions. A rule fault or an uncompilable
// entity aborts the run with an error; a failed expectation or
// assertion only fails the result.
func Run(scenario *Scenario) (*Result, error) {
	node, err := buildEntity(scenario)
	if err != nil {
		return nil, err
	}

	result := &Result{Pass: true, Trace: []TraceEvent{}, Node: node}
	ctx := context.Background()

	for i, step := range scenario.Steps {
		if err := runStep(ctx, node, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		checkExpectations(node, i, step.Expect, result)
	}

	for i, assertion := range scenario.Assertions {
		checkAssertion(node, i, assertion, result)
	}

	return result, nil
}

func buildEntity(scenario *Scenario) (*graph.Node, error) {
	src, err := os.ReadFile(scenario.Spec)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	v := cuecontext.New().CompileBytes(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile spec: %w", err)
	}
	def, err := schema.Compile(v.LookupPath(cue.ParsePath(scenario.Entity)))
	if err != nil {
		return nil, fmt.Errorf("compile entity %s: %w", scenario.Entity, err)
	}

	nodeID := scenario.NodeID
	if nodeID == "" {
		nodeID = "scenario-node"
	}
	return schema.Build(def, fixedID(nodeID))
}

func runStep(ctx context.Context, node *graph.Node, step Step, result *Result) error {
	switch {
	case step.Set != nil:
		v, err := value.FromAny(step.Set.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", step.Set.Property, err)
		}
		if err := node.SetProperty(ctx, step.Set.Property, v); err != nil {
			return fmt.Errorf("set %s: %w", step.Set.Property, err)
		}
		text, err := value.Marshal(v)
		if err != nil {
			return fmt.Errorf("set %s: %w", step.Set.Property, err)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Type:     "set",
			Property: step.Set.Property,
			Value:    string(text),
			Seq:      node.Rules().Clock().Current(),
		})
	case step.RunAll:
		if err := node.RunRules(ctx, "", rules.FlagAll); err != nil {
			return fmt.Errorf("run_all: %w", err)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Type: "run_all",
			Seq:  node.Rules().Clock().Current(),
		})
	}

	result.Trace = append(result.Trace, TraceEvent{
		Type:     "state",
		Seq:      node.Rules().Clock().Current(),
		Messages: node.State().AllMessages(),
		Valid:    node.IsValid(),
	})
	return nil
}

func checkExpectations(node *graph.Node, stepIndex int, expected []ExpectedMessage, result *Result) {
	for _, want := range expected {
		if !hasMessage(node, want.Property, want.Text) {
			result.AddError(fmt.Sprintf(
				"steps[%d]: expected message on %q: %q", stepIndex, want.Property, want.Text))
		}
	}
}

func checkAssertion(node *graph.Node, index int, a Assertion, result *Result) {
	switch a.Type {
	case AssertMessagesContain:
		if !hasMessage(node, a.Property, a.Text) {
			result.AddError(fmt.Sprintf(
				"assertions[%d]: no message on %q with text %q", index, a.Property, a.Text))
		}
	case AssertMessageCount:
		got := len(node.State().Messages(a.Property))
		if got != a.Count {
			result.AddError(fmt.Sprintf(
				"assertions[%d]: %q carries %d messages, expected %d", index, a.Property, got, a.Count))
		}
	case AssertValid:
		if node.IsValid() != a.Expect {
			result.AddError(fmt.Sprintf(
				"assertions[%d]: valid = %v, expected %v", index, node.IsValid(), a.Expect))
		}
	}
}

func hasMessage(node *graph.Node, property, text string) bool {
	for _, m := range node.Messages() {
		if m.Property == property && m.Text == text {
			return true
		}
	}
	return false
}
