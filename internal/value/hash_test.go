package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleKey_Stable(t *testing.T) {
	a, err := RuleKey("required.name", []string{"name"})
	require.NoError(t, err)
	b, err := RuleKey("required.name", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest")
}

func TestRuleKey_TriggerOrderIndependent(t *testing.T) {
	a, err := RuleKey("total.check", []string{"subtotal", "tax"})
	require.NoError(t, err)
	b, err := RuleKey("total.check", []string{"tax", "subtotal"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "trigger set is unordered identity")
}

func TestRuleKey_DistinguishesTags(t *testing.T) {
	a, err := RuleKey("required.name", []string{"name"})
	require.NoError(t, err)
	b, err := RuleKey("min_length.name", []string{"name"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRuleKey_DistinguishesTriggerSets(t *testing.T) {
	a, err := RuleKey("check", []string{"a"})
	require.NoError(t, err)
	b, err := RuleKey("check", []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRuleKey_EmptyTag(t *testing.T) {
	_, err := RuleKey("", []string{"a"})
	require.Error(t, err)
}

func TestBatchID_Deterministic(t *testing.T) {
	a := BatchID("Customer", 3, []byte(`{"records":[]}`))
	b := BatchID("Customer", 3, []byte(`{"records":[]}`))
	assert.Equal(t, a, b)

	c := BatchID("Customer", 4, []byte(`{"records":[]}`))
	assert.NotEqual(t, a, c)
}
