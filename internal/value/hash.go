package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainRule  = "armature/rule/v1"
	DomainBatch = "armature/batch/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RuleKey computes the content-based identity of a rule: a hash over the
// rule's tag and its sorted trigger-property names.
//
// Two rule managers that register a rule with the same tag and trigger set
// derive the same key, regardless of registration order. This is the
// hardened alternative to ordinal (registration-order) correlation for
// deployments where registration sequences are not guaranteed identical
// (conditional registration, plugin-provided rules, differing versions).
func RuleKey(tag string, triggers []string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("rule key: empty tag")
	}

	sorted := make([]string, len(triggers))
	copy(sorted, triggers)
	slices.Sort(sorted)

	obj := Object{
		"tag":      String(tag),
		"triggers": stringsToArray(sorted),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("rule key: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// BatchID computes a content-addressed ID for a message batch, used by the
// journal store for idempotent writes. Same entity, sequence, and payload
// always produce the same ID.
func BatchID(entity string, seq int64, payload []byte) string {
	obj := Object{
		"entity":  String(entity),
		"seq":     Int(seq),
		"payload": String(payload),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// All fields are strings/ints; canonical marshal cannot fail.
		panic(err)
	}
	return hashWithDomain(DomainBatch, canonical)
}

// MustRuleKey is like RuleKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRuleKey(tag string, triggers []string) string {
	key, err := RuleKey(tag, triggers)
	if err != nil {
		panic(err)
	}
	return key
}

func stringsToArray(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}
