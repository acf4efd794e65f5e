package schema

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/armaturedev/armature/internal/graph"
	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
	"github.com/armaturedev/armature/internal/value"
)

// Build instantiates a graph node from a compiled definition. Rules
// are registered in declaration order, so two peers built from the
// same definition agree on every rule index.
func Build(def *EntityDef, gen graph.IDGenerator) (*graph.Node, error) {
	state, err := props.NewState(def.PropertyNames()...)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", def.Name, err)
	}
	node := graph.New(def.Name, state, gen)

	for _, r := range def.Rules {
		severity := props.SeverityError
		if r.Severity != "" {
			severity, err = props.ParseSeverity(r.Severity)
			if err != nil {
				return nil, fmt.Errorf("build %s: rule %s: %w", def.Name, r.Tag, err)
			}
		}
		eval, err := buildEvaluator(r, severity)
		if err != nil {
			return nil, fmt.Errorf("build %s: rule %s: %w", def.Name, r.Tag, err)
		}
		if _, err := node.Rules().Register(rules.Def{
			Tag:      r.Tag,
			Triggers: []string{r.Property},
			Evaluate: eval,
		}); err != nil {
			return nil, fmt.Errorf("build %s: %w", def.Name, err)
		}
	}
	return node, nil
}

// buildEvaluator constructs the check function for one rule kind.
// Every kind reports through a message, never through an error: a
// violated bound is an outcome, not a fault.
func buildEvaluator(r RuleDef, severity props.Severity) (rules.Func, error) {
	text := r.Message
	fail := func(t string) []props.Message {
		return []props.Message{{Property: r.Property, Severity: severity, Text: t}}
	}

	switch r.Kind {
	case "required":
		if text == "" {
			text = fmt.Sprintf("%s is required", r.Property)
		}
		return func(ctx context.Context, v rules.View) ([]props.Message, error) {
			got, err := v.Get(r.Property)
			if err != nil {
				return nil, err
			}
			if isAbsent(got) {
				return fail(text), nil
			}
			return nil, nil
		}, nil

	case "min_length", "max_length":
		if text == "" {
			unit := "at least"
			if r.Kind == "max_length" {
				unit = "at most"
			}
			text = fmt.Sprintf("%s must be %s %d characters", r.Property, unit, r.Bound)
		}
		isMin := r.Kind == "min_length"
		return func(ctx context.Context, v rules.View) ([]props.Message, error) {
			got, err := v.Get(r.Property)
			if err != nil {
				return nil, err
			}
			s, ok := got.(value.String)
			if !ok {
				return nil, nil // absence is required's concern
			}
			n := int64(utf8.RuneCountInString(string(s)))
			if (isMin && n < r.Bound) || (!isMin && n > r.Bound) {
				return fail(text), nil
			}
			return nil, nil
		}, nil

	case "min", "max":
		if text == "" {
			unit := "at least"
			if r.Kind == "max" {
				unit = "at most"
			}
			text = fmt.Sprintf("%s must be %s %d", r.Property, unit, r.Bound)
		}
		isMin := r.Kind == "min"
		return func(ctx context.Context, v rules.View) ([]props.Message, error) {
			got, err := v.Get(r.Property)
			if err != nil {
				return nil, err
			}
			n, ok := got.(value.Int)
			if !ok {
				return nil, nil
			}
			if (isMin && int64(n) < r.Bound) || (!isMin && int64(n) > r.Bound) {
				return fail(text), nil
			}
			return nil, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
}

func isAbsent(v value.Value) bool {
	switch t := v.(type) {
	case nil, value.Null:
		return true
	case value.String:
		return t == ""
	}
	return false
}
