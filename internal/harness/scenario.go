// Package harness executes YAML scenarios against compiled entities
// and compares the resulting traces with golden files.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: an entity definition,
// an ordered list of property mutations, and assertions on the final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is the path to the CUE file holding the entity definition.
	// Relative paths resolve against the scenario file location.
	Spec string `yaml:"spec"`

	// Entity is the CUE path of the entity struct, e.g. "entity.Person".
	Entity string `yaml:"entity"`

	// NodeID is an optional fixed node identifier for deterministic
	// golden comparison. Defaults to "scenario-node".
	NodeID string `yaml:"node_id,omitempty"`

	// Steps are the ordered mutations of the main flow.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	// Supported types: messages_contain, message_count, valid
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action: a property write or a forced full
// re-evaluation.
type Step struct {
	// Set writes a property and runs its triggered rules.
	Set *SetStep `yaml:"set,omitempty"`

	// RunAll forces evaluation of every rule regardless of triggers.
	RunAll bool `yaml:"run_all,omitempty"`

	// Expect optionally validates the messages present after the step.
	// Subset match - each listed message must be present.
	Expect []ExpectedMessage `yaml:"expect,omitempty"`
}

// SetStep writes one property.
type SetStep struct {
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
}

// ExpectedMessage matches one message by property and text.
type ExpectedMessage struct {
	Property string `yaml:"property"`
	Text     string `yaml:"text"`
}

// Assertion validates the final entity state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "messages_contain": a message with Property and Text exists
	// - "message_count": Property carries exactly Count messages
	// - "valid": IsValid() equals Expect
	Type string `yaml:"type"`

	Property string `yaml:"property,omitempty"`
	Text     string `yaml:"text,omitempty"`
	Count    int    `yaml:"count,omitempty"`
	Expect   bool   `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertMessagesContain = "messages_contain"
	AssertMessageCount    = "message_count"
	AssertValid           = "valid"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly. The spec path is resolved
// relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) {
		scenario.Spec = filepath.Join(filepath.Dir(path), scenario.Spec)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	if s.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
		return fmt.Errorf("spec file not found: %s", s.Spec)
	}

	for i, step := range s.Steps {
		if step.Set == nil && !step.RunAll {
			return fmt.Errorf("steps[%d]: set or run_all is required", i)
		}
		if step.Set != nil && step.RunAll {
			return fmt.Errorf("steps[%d]: set and run_all are mutually exclusive", i)
		}
		if step.Set != nil && step.Set.Property == "" {
			return fmt.Errorf("steps[%d].set: property is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertMessagesContain:
		if a.Property == "" || a.Text == "" {
			return fmt.Errorf("assertions[%d]: property and text are required for messages_contain", index)
		}
	case AssertMessageCount:
		if a.Property == "" {
			return fmt.Errorf("assertions[%d]: property is required for message_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for message_count", index)
		}
	case AssertValid:
		// Expect defaults to false; nothing further to check.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
