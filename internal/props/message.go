package props

import "fmt"

// Severity classifies a rule message.
type Severity string

const (
	// SeverityInfo is an informational message; does not affect validity.
	SeverityInfo Severity = "info"

	// SeverityWarning flags suspect data; does not affect validity.
	SeverityWarning Severity = "warning"

	// SeverityError marks the target property's data as invalid.
	SeverityError Severity = "error"
)

// ValidSeverities defines the allowed severity values.
var ValidSeverities = map[Severity]bool{
	SeverityInfo:    true,
	SeverityWarning: true,
	SeverityError:   true,
}

// ParseSeverity validates a severity string from external input.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !ValidSeverities[sev] {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

// Message is a validation or informational message attributed to exactly
// one rule via its unique index.
//
// Messages are superseded by the next execution of the same rule,
// identified by the same RuleIndex - never by content comparison.
type Message struct {
	// RuleIndex is the manager-local, registration-order identity of the
	// rule that produced this message.
	RuleIndex int `json:"rule_index"`

	// Property names the target property within the owning entity.
	Property string `json:"property"`

	// Severity is one of info, warning, error.
	Severity Severity `json:"severity"`

	// Text is the human-readable message.
	Text string `json:"text"`
}
