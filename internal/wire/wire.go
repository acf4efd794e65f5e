// Package wire implements the cross-boundary correlation protocol for
// rule messages.
//
// When messages cross a process boundary they carry no rule type name and
// no property-hash identity - only a rule identity plus target property,
// severity, and text. The receiving manager must hold, at the same
// identity, a rule registered through an identical construction sequence;
// it applies incoming messages to its local property state exactly as if
// it had produced them, replacing prior messages owned by that identity.
//
// Two identity modes exist and are never mixed within one batch:
//
//   - ordinal: records carry the registration-order rule index. Minimal
//     wire size; correct only where an identical registration sequence is
//     guaranteed by build-time contract (e.g. both peers build the entity
//     from the same schema document). Any divergence in registration
//     order or count between peers breaks correlation, which is why
//     unknown indices are dropped loudly, never applied silently.
//
//   - content: records carry value.RuleKey (rule tag + sorted trigger
//     set). Survives conditional registration and differing versions at
//     the cost of 64 hex characters per record.
//
// The batch header names the mode; a decoder rejects records that do not
// match it.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
)

// IdentityMode selects how records identify their producing rule.
type IdentityMode string

const (
	// IdentityOrdinal correlates by registration-order rule index.
	IdentityOrdinal IdentityMode = "ordinal"

	// IdentityContent correlates by content-based rule key.
	IdentityContent IdentityMode = "content"
)

// ValidIdentityModes defines the allowed identity modes.
var ValidIdentityModes = map[IdentityMode]bool{
	IdentityOrdinal: true,
	IdentityContent: true,
}

// Record is one rule message on the wire.
// Exactly one of RuleIndex (ordinal mode) or RuleKey (content mode) is set.
type Record struct {
	RuleIndex int            `json:"rule_index,omitempty"`
	RuleKey   string         `json:"rule_key,omitempty"`
	Property  string         `json:"property"`
	Severity  props.Severity `json:"severity"`
	Text      string         `json:"text"`
}

// Batch is an ordered sequence of records for one entity instance.
type Batch struct {
	// Entity names the entity type the batch belongs to.
	Entity string `json:"entity"`

	// Mode is the identity mode of every record in the batch.
	Mode IdentityMode `json:"identity_mode"`

	// Seq is the producing manager's logical clock stamp for the batch.
	Seq int64 `json:"seq"`

	// Records are in the producing entity's message order.
	Records []Record `json:"records"`
}

// Snapshot captures the entity's current messages as a batch in the given
// identity mode, stamped with the manager's current clock position.
func Snapshot(m *rules.Manager, entity string, mode IdentityMode) (Batch, error) {
	if !ValidIdentityModes[mode] {
		return Batch{}, fmt.Errorf("snapshot: invalid identity mode %q", mode)
	}

	batch := Batch{
		Entity:  entity,
		Mode:    mode,
		Seq:     m.Clock().Current(),
		Records: []Record{},
	}

	for _, msg := range m.State().AllMessages() {
		rec := Record{
			Property: msg.Property,
			Severity: msg.Severity,
			Text:     msg.Text,
		}
		switch mode {
		case IdentityOrdinal:
			rec.RuleIndex = msg.RuleIndex
		case IdentityContent:
			key, ok := m.KeyOf(msg.RuleIndex)
			if !ok {
				return Batch{}, fmt.Errorf("snapshot: message owned by unregistered index %d", msg.RuleIndex)
			}
			rec.RuleKey = key
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// Encode serializes a batch as indented JSON.
// Output is deterministic for a given batch (struct field order, record
// order preserved), which keeps golden comparisons stable.
func Encode(b Batch) ([]byte, error) {
	if err := validate(b); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates a batch.
func Decode(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode: %w", err)
	}
	if err := validate(b); err != nil {
		return Batch{}, fmt.Errorf("decode: %w", err)
	}
	return b, nil
}

// validate enforces the wire contract: a known identity mode, valid
// severities, and no identity mixing within the batch.
func validate(b Batch) error {
	if !ValidIdentityModes[b.Mode] {
		return fmt.Errorf("invalid identity mode %q", b.Mode)
	}
	for i, rec := range b.Records {
		if !props.ValidSeverities[rec.Severity] {
			return fmt.Errorf("record %d: invalid severity %q", i, rec.Severity)
		}
		if rec.Property == "" {
			return fmt.Errorf("record %d: empty property", i)
		}
		switch b.Mode {
		case IdentityOrdinal:
			if rec.RuleIndex < 1 {
				return fmt.Errorf("record %d: ordinal batch requires rule_index >= 1", i)
			}
			if rec.RuleKey != "" {
				return fmt.Errorf("record %d: rule_key in ordinal batch", i)
			}
		case IdentityContent:
			if rec.RuleKey == "" {
				return fmt.Errorf("record %d: content batch requires rule_key", i)
			}
			if rec.RuleIndex != 0 {
				return fmt.Errorf("record %d: rule_index in content batch", i)
			}
		}
	}
	return nil
}
