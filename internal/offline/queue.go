// Package offline implements the durable mutation queue a disconnected
// client drains on reconnect. Reads never enter the queue; it only ever
// holds mutations.
package offline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sommos/sommos/internal/domain"
)

// Defaults for retry scheduling
const (
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
	DefaultMaxAttempts = 8
)

// Op is one queued mutation with its sync envelope
type Op struct {
	ID            int64             `json:"id"`
	OpID          string            `json:"op_id"`
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	UpdatedAt     int64             `json:"updated_at"`
	Origin        string            `json:"origin"`
	EnqueuedAt    int64             `json:"enqueued_at"`
	Attempts      int               `json:"attempts"`
	NextAttemptAt int64             `json:"next_attempt_at"`
	LastError     string            `json:"last_error,omitempty"`
}

// DeadOp is a mutation that exhausted its attempts
type DeadOp struct {
	Op
	FailedAt int64  `json:"failed_at"`
	Reason   string `json:"reason"`
}

// Sender delivers one op. A nil return means the server produced a
// terminal outcome (applied, duplicate, or rejected) and the op leaves the
// queue; an error means delivery failed and the op is retried with
// backoff.
type Sender interface {
	Send(ctx context.Context, op Op) error
}

// Config tunes retry behaviour; zero values take the defaults
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Dead    int `json:"dead"`
}

// Queue is the SQLite-backed op queue. FIFO by insertion id; replacing an
// op_id keeps its position.
type Queue struct {
	db          *sql.DB
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxAttempts int
	now         func() time.Time
	log         zerolog.Logger
}

// NewQueue creates a queue on the given database connection
func NewQueue(db *sql.DB, cfg Config, log zerolog.Logger) *Queue {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		db:          db,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
		log:         log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue appends the op, or replaces the payload of an already queued
// op_id in place. Latest payload wins; the original queue position and
// enqueue time are kept, and delivery attempts restart for the new
// payload.
func (q *Queue) Enqueue(op Op) error {
	if op.OpID == "" {
		return domain.InvalidArgument("op requires an op_id")
	}
	if op.Endpoint == "" {
		return domain.InvalidArgument("op %s requires an endpoint", op.OpID)
	}
	if op.Method == "" {
		op.Method = "POST"
	}

	headers, err := encodeHeaders(op.Headers)
	if err != nil {
		return err
	}
	body, err := msgpack.Marshal(op.Body)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}

	result, err := q.db.Exec(`
		UPDATE queue
		SET endpoint = ?, method = ?, headers = ?, body = ?, updated_at = ?, origin = ?,
		    attempts = 0, next_attempt_at = 0, last_error = ''
		WHERE op_id = ?`,
		op.Endpoint, op.Method, headers, body, op.UpdatedAt, op.Origin, op.OpID)
	if err != nil {
		return fmt.Errorf("failed to replace queued op: %w", err)
	}
	replaced, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check replaced op: %w", err)
	}
	if replaced > 0 {
		q.log.Debug().Str("op_id", op.OpID).Msg("Replaced queued op payload")
		return nil
	}

	_, err = q.db.Exec(`
		INSERT INTO queue (op_id, endpoint, method, headers, body, updated_at, origin, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OpID, op.Endpoint, op.Method, headers, body, op.UpdatedAt, op.Origin, q.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to enqueue op: %w", err)
	}
	return nil
}

// Drain sends every due op in FIFO order, one at a time, so ops touching
// the same stock key can never race each other. Failed sends are
// rescheduled with exponential backoff until maxAttempts moves them to the
// dead letter table.
func (q *Queue) Drain(ctx context.Context, sender Sender) (DrainResult, error) {
	var result DrainResult

	ops, err := q.due()
	if err != nil {
		return result, err
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := sender.Send(ctx, op); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if fateErr := q.recordFailure(op, err); fateErr != nil {
				return result, fateErr
			}
			if op.Attempts+1 >= q.maxAttempts {
				result.Dead++
			} else {
				result.Retried++
			}
			continue
		}

		if _, err := q.db.Exec(`DELETE FROM queue WHERE id = ?`, op.ID); err != nil {
			return result, fmt.Errorf("failed to dequeue op: %w", err)
		}
		result.Sent++
	}

	if result.Sent+result.Retried+result.Dead > 0 {
		q.log.Info().
			Int("sent", result.Sent).
			Int("retried", result.Retried).
			Int("dead", result.Dead).
			Msg("Drained offline queue")
	}
	return result, nil
}

// recordFailure schedules a retry or moves the op to the dead letter table
func (q *Queue) recordFailure(op Op, sendErr error) error {
	attempts := op.Attempts + 1
	if attempts >= q.maxAttempts {
		headers, err := encodeHeaders(op.Headers)
		if err != nil {
			return err
		}
		body, err := msgpack.Marshal(op.Body)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		_, err = q.db.Exec(`
			INSERT INTO dead_letter (op_id, endpoint, method, headers, body, updated_at, origin,
			                         enqueued_at, attempts, failed_at, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.OpID, op.Endpoint, op.Method, headers, body, op.UpdatedAt, op.Origin,
			op.EnqueuedAt, attempts, q.now().Unix(), sendErr.Error())
		if err != nil {
			return fmt.Errorf("failed to dead-letter op: %w", err)
		}
		if _, err := q.db.Exec(`DELETE FROM queue WHERE id = ?`, op.ID); err != nil {
			return fmt.Errorf("failed to remove dead op: %w", err)
		}
		q.log.Warn().Str("op_id", op.OpID).Int("attempts", attempts).Err(sendErr).Msg("Op moved to dead letter")
		return nil
	}

	next := q.now().Add(q.backoffFor(attempts)).Unix()
	_, err := q.db.Exec(`
		UPDATE queue SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`,
		attempts, next, sendErr.Error(), op.ID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// backoffFor doubles from the base per attempt, capped
func (q *Queue) backoffFor(attempts int) time.Duration {
	backoff := q.baseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	if backoff > q.maxBackoff {
		return q.maxBackoff
	}
	return backoff
}

// due returns ops eligible to send now, oldest first
func (q *Queue) due() ([]Op, error) {
	rows, err := q.db.Query(`
		SELECT id, op_id, endpoint, method, headers, body, updated_at, origin,
		       enqueued_at, attempts, next_attempt_at, last_error
		FROM queue
		WHERE next_attempt_at <= ?
		ORDER BY id ASC`, q.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list due ops: %w", err)
	}
	defer rows.Close()
	return collectOps(rows)
}

// Pending returns the number of queued ops, due or not
func (q *Queue) Pending() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// List returns queued ops in FIFO order, for inspection
func (q *Queue) List() ([]Op, error) {
	rows, err := q.db.Query(`
		SELECT id, op_id, endpoint, method, headers, body, updated_at, origin,
		       enqueued_at, attempts, next_attempt_at, last_error
		FROM queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()
	return collectOps(rows)
}

// DeadLetters returns exhausted ops, most recent failures first
func (q *Queue) DeadLetters(limit int) ([]DeadOp, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(`
		SELECT id, op_id, endpoint, method, headers, body, updated_at, origin,
		       enqueued_at, attempts, failed_at, reason
		FROM dead_letter ORDER BY failed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var dead []DeadOp
	for rows.Next() {
		var d DeadOp
		var headers, body []byte
		err := rows.Scan(&d.ID, &d.OpID, &d.Endpoint, &d.Method, &headers, &body,
			&d.UpdatedAt, &d.Origin, &d.EnqueuedAt, &d.Attempts, &d.FailedAt, &d.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if d.Headers, d.Body, err = decodeRecord(headers, body); err != nil {
			return nil, err
		}
		dead = append(dead, d)
	}
	return dead, rows.Err()
}

func collectOps(rows *sql.Rows) ([]Op, error) {
	var ops []Op
	for rows.Next() {
		var op Op
		var headers, body []byte
		err := rows.Scan(&op.ID, &op.OpID, &op.Endpoint, &op.Method, &headers, &body,
			&op.UpdatedAt, &op.Origin, &op.EnqueuedAt, &op.Attempts, &op.NextAttemptAt, &op.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued op: %w", err)
		}
		if op.Headers, op.Body, err = decodeRecord(headers, body); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func encodeHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	encoded, err := msgpack.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	return encoded, nil
}

func decodeRecord(headers, body []byte) (map[string]string, []byte, error) {
	var h map[string]string
	if len(headers) > 0 {
		if err := msgpack.Unmarshal(headers, &h); err != nil {
			return nil, nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	var b []byte
	if len(body) > 0 {
		if err := msgpack.Unmarshal(body, &b); err != nil {
			return nil, nil, fmt.Errorf("failed to decode body: %w", err)
		}
	}
	return h, b, nil
}
