package wire

import (
	"fmt"
	"log/slog"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
)

// Mismatch is a diagnostic for a record whose rule identity has no local
// registration. The record is dropped, never applied to another rule's
// slot.
type Mismatch struct {
	RuleIndex int    `json:"rule_index,omitempty"`
	RuleKey   string `json:"rule_key,omitempty"`
	Property  string `json:"property"`
	Text      string `json:"text"`
}

// ApplyResult reports the outcome of applying one batch.
type ApplyResult struct {
	// Applied counts records that landed in a local message bag.
	Applied int

	// Mismatches lists dropped records, one per unresolvable record.
	Mismatches []Mismatch
}

// Apply replays a batch into a local manager.
//
// Records are grouped by rule identity in first-seen order; each group
// replaces exactly the messages previously owned by that identity, and
// only those. A record whose identity has no local registration is
// dropped with a Mismatch diagnostic and a warning log; remaining records
// in the batch are still applied. Apply returns an error only for
// engine-level failures (schema divergence such as a message naming a
// property the local entity does not own).
func Apply(m *rules.Manager, b Batch) (ApplyResult, error) {
	if err := validate(b); err != nil {
		return ApplyResult{}, fmt.Errorf("apply: %w", err)
	}

	var result ApplyResult

	// Group records per local index, preserving first-seen order so the
	// receiving bags end up in the producer's message order.
	type group struct {
		index int
		msgs  []props.Message
	}
	var groups []*group
	byIndex := make(map[int]*group)

	for _, rec := range b.Records {
		index, ok := resolve(m, b.Mode, rec)
		if !ok {
			result.Mismatches = append(result.Mismatches, Mismatch{
				RuleIndex: rec.RuleIndex,
				RuleKey:   rec.RuleKey,
				Property:  rec.Property,
				Text:      rec.Text,
			})
			slog.Warn("correlation mismatch: record dropped",
				"entity", b.Entity,
				"identity_mode", string(b.Mode),
				"rule_index", rec.RuleIndex,
				"rule_key", rec.RuleKey,
				"property", rec.Property,
			)
			continue
		}

		g, exists := byIndex[index]
		if !exists {
			g = &group{index: index}
			byIndex[index] = g
			groups = append(groups, g)
		}
		g.msgs = append(g.msgs, props.Message{
			RuleIndex: index,
			Property:  rec.Property,
			Severity:  rec.Severity,
			Text:      rec.Text,
		})
	}

	for _, g := range groups {
		if err := m.ApplyExternal(g.index, g.msgs); err != nil {
			return result, fmt.Errorf("apply batch for entity %q: %w", b.Entity, err)
		}
		result.Applied += len(g.msgs)
	}

	slog.Debug("batch applied",
		"entity", b.Entity,
		"identity_mode", string(b.Mode),
		"applied", result.Applied,
		"mismatches", len(result.Mismatches),
	)
	return result, nil
}

// resolve maps a record's wire identity to a local rule index.
func resolve(m *rules.Manager, mode IdentityMode, rec Record) (int, bool) {
	switch mode {
	case IdentityOrdinal:
		if rec.RuleIndex < 1 || rec.RuleIndex > m.Count() {
			return 0, false
		}
		return rec.RuleIndex, true
	case IdentityContent:
		return m.IndexByKey(rec.RuleKey)
	default:
		return 0, false
	}
}
