// Package sync reconciles client-originated mutation batches with server
// state: idempotent replay by op_id, last-write-wins on metadata, additive
// deltas on quantities.
package sync

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sommos/sommos/internal/domain"
)

// AppliedOp is one recorded terminal outcome keyed by op_id
type AppliedOp struct {
	OpID        string
	PayloadHash string
	Outcome     Outcome
	AppliedAt   int64
}

// AppliedOpsRepository persists per-op outcomes for idempotent replay.
// Outcomes are msgpack-encoded; rows are purged after the retention window.
type AppliedOpsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAppliedOpsRepository creates a new applied-ops repository
func NewAppliedOpsRepository(db *sql.DB, log zerolog.Logger) *AppliedOpsRepository {
	return &AppliedOpsRepository{
		db:  db,
		log: log.With().Str("repo", "applied_ops").Logger(),
	}
}

// GetTx returns the recorded op, or nil when the op_id is unknown
func (r *AppliedOpsRepository) GetTx(tx *sql.Tx, opID string) (*AppliedOp, error) {
	row := tx.QueryRow(`SELECT op_id, outcome, payload_hash, applied_at FROM applied_ops WHERE op_id = ?`, opID)

	var op AppliedOp
	var blob []byte
	err := row.Scan(&op.OpID, &blob, &op.PayloadHash, &op.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get applied op: %w", err)
	}
	if err := msgpack.Unmarshal(blob, &op.Outcome); err != nil {
		return nil, fmt.Errorf("failed to decode applied op outcome: %w", err)
	}
	return &op, nil
}

// RecordTx stores a terminal outcome in the caller's transaction, so the
// mutation and its idempotence record commit together.
func (r *AppliedOpsRepository) RecordTx(tx *sql.Tx, opID, payloadHash string, outcome Outcome) error {
	blob, err := msgpack.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO applied_ops (op_id, outcome, payload_hash, applied_at)
		VALUES (?, ?, ?, ?)`,
		opID, blob, payloadHash, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record applied op: %w", err)
	}
	return nil
}

// PurgeBefore deletes records applied before the cutoff, returning the
// number removed. Retention must stay at or above seven days.
func (r *AppliedOpsRepository) PurgeBefore(cutoff time.Time) (int64, error) {
	minCutoff := time.Now().Add(-7 * 24 * time.Hour)
	if cutoff.After(minCutoff) {
		return 0, domain.InvalidArgument("applied_ops retention must be at least 7 days")
	}

	result, err := r.db.Exec(`DELETE FROM applied_ops WHERE applied_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge applied ops: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged ops: %w", err)
	}
	if removed > 0 {
		r.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Purged applied ops")
	}
	return removed, nil
}

// Count returns the number of recorded ops
func (r *AppliedOpsRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM applied_ops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count applied ops: %w", err)
	}
	return n, nil
}
