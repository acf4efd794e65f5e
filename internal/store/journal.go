package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/armaturedev/armature/internal/rules"
	"github.com/armaturedev/armature/internal/value"
	"github.com/armaturedev/armature/internal/wire"
)

// ErrNotFound is returned when the requested batch is not journaled.
var ErrNotFound = errors.New("batch not found")

// WriteBatch journals one batch and returns its content-derived ID.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - writing the same
// batch twice is a silent no-op and inserted reports false.
//
// A different payload under an already-journaled (entity, seq) pair is
// NOT idempotent: the unique index rejects it, because two bodies for
// one sequence number means the peers have diverged.
func (s *Store) WriteBatch(ctx context.Context, b wire.Batch) (id string, inserted bool, err error) {
	payload, err := wire.Encode(b)
	if err != nil {
		return "", false, fmt.Errorf("write batch: %w", err)
	}
	id = value.BatchID(b.Entity, b.Seq, payload)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, entity, seq, identity_mode, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, b.Entity, b.Seq, string(b.Mode), string(payload))
	if err != nil {
		return "", false, fmt.Errorf("write batch: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("write batch: %w", err)
	}
	return id, n > 0, nil
}

// ReadBatch loads one journaled batch by ID.
func (s *Store) ReadBatch(ctx context.Context, id string) (wire.Batch, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM batches WHERE id = ?`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.Batch{}, fmt.Errorf("read batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return wire.Batch{}, fmt.Errorf("read batch %s: %w", id, err)
	}
	b, err := wire.Decode([]byte(payload))
	if err != nil {
		return wire.Batch{}, fmt.Errorf("read batch %s: %w", id, err)
	}
	return b, nil
}

// ReadBatches loads every journaled batch for an entity, ordered by
// sequence number. This is the replay order.
func (s *Store) ReadBatches(ctx context.Context, entity string) ([]wire.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM batches
		WHERE entity = ?
		ORDER BY seq ASC
	`, entity)
	if err != nil {
		return nil, fmt.Errorf("read batches for %s: %w", entity, err)
	}
	defer rows.Close()

	var out []wire.Batch
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("read batches for %s: %w", entity, err)
		}
		b, err := wire.Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("read batches for %s: %w", entity, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read batches for %s: %w", entity, err)
	}
	return out, nil
}

// LastSeq returns the highest journaled sequence number for an
// entity, or zero when nothing is journaled.
func (s *Store) LastSeq(ctx context.Context, entity string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM batches WHERE entity = ?`, entity,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq for %s: %w", entity, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// ListEntities returns the distinct entity names present in the
// journal, sorted.
func (s *Store) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity FROM batches ORDER BY entity ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// ReplayInto applies every journaled batch for an entity to a local
// manager in sequence order. Unresolvable records accumulate as
// mismatches; an engine-level failure stops the replay.
func (s *Store) ReplayInto(ctx context.Context, m *rules.Manager, entity string) (wire.ApplyResult, error) {
	batches, err := s.ReadBatches(ctx, entity)
	if err != nil {
		return wire.ApplyResult{}, err
	}

	var total wire.ApplyResult
	for _, b := range batches {
		res, err := wire.Apply(m, b)
		if err != nil {
			return total, fmt.Errorf("replay %s seq %d: %w", entity, b.Seq, err)
		}
		total.Applied += res.Applied
		total.Mismatches = append(total.Mismatches, res.Mismatches...)
	}
	return total, nil
}
