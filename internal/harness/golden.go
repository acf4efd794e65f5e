package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/armaturedev/armature/internal/value"
)

// RunWithGolden executes a scenario and compares the trace against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// Traces serialize through canonical JSON, so byte comparison is
// meaningful. To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := marshalTrace(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}

// marshalTrace renders the trace as canonical JSON.
func marshalTrace(name string, result *Result) ([]byte, error) {
	events := make(value.Array, len(result.Trace))
	for i, ev := range result.Trace {
		obj := value.Object{
			"type": value.String(ev.Type),
			"seq":  value.Int(ev.Seq),
		}
		if ev.Property != "" {
			obj["property"] = value.String(ev.Property)
		}
		if ev.Value != "" {
			obj["value"] = value.String(ev.Value)
		}
		if ev.Type == "state" {
			msgs := make(value.Array, len(ev.Messages))
			for j, m := range ev.Messages {
				msgs[j] = value.Object{
					"rule_index": value.Int(m.RuleIndex),
					"property":   value.String(m.Property),
					"severity":   value.String(m.Severity),
					"text":       value.String(m.Text),
				}
			}
			obj["messages"] = msgs
			obj["valid"] = value.Bool(ev.Valid)
		}
		events[i] = obj
	}

	snapshot := value.Object{
		"scenario_name": value.String(name),
		"trace":         events,
	}
	return value.MarshalCanonical(snapshot)
}
