package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/rules"
	"github.com/armaturedev/armature/internal/value"
	"github.com/armaturedev/armature/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(seq int64, text string) wire.Batch {
	return wire.Batch{
		Entity: "person",
		Mode:   wire.IdentityOrdinal,
		Seq:    seq,
		Records: []wire.Record{
			{RuleIndex: 1, Property: "name", Severity: props.SeverityError, Text: text},
		},
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, _, err = s1.WriteBatch(context.Background(), testBatch(1, "name is required"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopen over the existing file; data survives.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	batches, err := s2.ReadBatches(context.Background(), "person")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestWriteBatch_IdempotentByContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testBatch(1, "name is required")

	id1, inserted, err := s.WriteBatch(ctx, b)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, id1)

	id2, inserted, err := s.WriteBatch(ctx, b)
	require.NoError(t, err)
	assert.False(t, inserted, "second write of the same batch is a no-op")
	assert.Equal(t, id1, id2)

	batches, err := s.ReadBatches(ctx, "person")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestWriteBatch_DivergentSeqRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.WriteBatch(ctx, testBatch(1, "name is required"))
	require.NoError(t, err)

	// Same (entity, seq) with different content is divergence.
	_, _, err = s.WriteBatch(ctx, testBatch(1, "something else"))
	require.Error(t, err)
}

func TestWriteBatch_InvalidBatchRejected(t *testing.T) {
	s := openTestStore(t)

	b := testBatch(1, "x")
	b.Mode = "telepathy"
	_, _, err := s.WriteBatch(context.Background(), b)
	require.Error(t, err)

	entities, err := s.ListEntities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestReadBatch_ByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testBatch(7, "name is required")

	id, _, err := s.WriteBatch(ctx, b)
	require.NoError(t, err)

	got, err := s.ReadBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = s.ReadBatch(ctx, "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadBatches_OrderedBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Written out of order; read back in sequence order.
	for _, seq := range []int64{5, 2, 9} {
		_, _, err := s.WriteBatch(ctx, testBatch(seq, "name is required"))
		require.NoError(t, err)
	}

	batches, err := s.ReadBatches(ctx, "person")
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, int64(2), batches[0].Seq)
	assert.Equal(t, int64(5), batches[1].Seq)
	assert.Equal(t, int64(9), batches[2].Seq)
}

func TestLastSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "empty journal")

	for _, n := range []int64{3, 11, 7} {
		_, _, err := s.WriteBatch(ctx, testBatch(n, "name is required"))
		require.NoError(t, err)
	}

	seq, err = s.LastSeq(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, int64(11), seq)
}

func TestListEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	order := testBatch(1, "x")
	order.Entity = "order"
	_, _, err := s.WriteBatch(ctx, order)
	require.NoError(t, err)
	_, _, err = s.WriteBatch(ctx, testBatch(1, "x"))
	require.NoError(t, err)

	entities, err := s.ListEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order", "person"}, entities)
}

func TestReplayInto_AppliesInSequenceOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Later batch clears the message the earlier one set; replay in
	// seq order must end with the cleared state.
	first := testBatch(1, "name is required")
	second := wire.Batch{Entity: "person", Mode: wire.IdentityOrdinal, Seq: 2}
	second.Records = []wire.Record{} // validated empty batch needs no records
	_, _, err := s.WriteBatch(ctx, first)
	require.NoError(t, err)
	_, _, err = s.WriteBatch(ctx, second)
	require.NoError(t, err)

	m := newPersonManager(t)
	res, err := s.ReplayInto(ctx, m, "person")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Mismatches)

	// The first batch landed and nothing after it cleared rule 1, so
	// the replayed message is still present.
	msgs := m.State().AllMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "name is required", msgs[0].Text)
}

func TestReplayInto_CollectsMismatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := testBatch(1, "name is required")
	b.Records = append(b.Records, wire.Record{
		RuleIndex: 99, Property: "name", Severity: props.SeverityError, Text: "ghost",
	})
	_, _, err := s.WriteBatch(ctx, b)
	require.NoError(t, err)

	m := newPersonManager(t)
	res, err := s.ReplayInto(ctx, m, "person")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, 99, res.Mismatches[0].RuleIndex)
}

// newPersonManager registers one rule so ordinal index 1 resolves.
func newPersonManager(t *testing.T) *rules.Manager {
	t.Helper()
	m := rules.NewManager(props.MustNewState("name"))
	_, err := m.Register(rules.Def{
		Tag:      "required.name",
		Triggers: []string{"name"},
		Evaluate: func(ctx context.Context, view rules.View) ([]props.Message, error) {
			v, err := view.Get("name")
			if err != nil {
				return nil, err
			}
			if value.Equal(v, value.Null{}) || value.Equal(v, value.String("")) {
				return []props.Message{{Property: "name", Severity: props.SeverityError, Text: "name is required"}}, nil
			}
			return nil, nil
		},
	})
	require.NoError(t, err)
	return m
}
