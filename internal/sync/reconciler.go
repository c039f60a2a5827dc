package sync

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/events"
	"github.com/sommos/sommos/internal/inventory"
)

// Supported operation endpoints
const (
	EndpointConsume     = "inventory.consume"
	EndpointReceive     = "inventory.receive"
	EndpointMove        = "inventory.move"
	EndpointReserve     = "inventory.reserve"
	EndpointUnreserve   = "inventory.unreserve"
	EndpointWineMeta    = "wine.update_metadata"
	EndpointVintageMeta = "vintage.update_metadata"
)

// Per-op outcome statuses
const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// Equal-timestamp tiebreak modes
const (
	TiebreakOriginLex  = "origin_lex"
	TiebreakServerWins = "server_wins"
)

// Operation is one client-originated mutation with its sync envelope
type Operation struct {
	OpID      string          `json:"op_id"`
	UpdatedAt int64           `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
	Origin    string          `json:"origin"`
	Endpoint  string          `json:"endpoint"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
}

// Outcome is the per-op result returned to the client and stored for replay
type Outcome struct {
	OpID            string `json:"op_id" msgpack:"op_id"`
	Status          string `json:"status" msgpack:"status"`
	Code            string `json:"code,omitempty" msgpack:"code"`
	Reason          string `json:"reason,omitempty" msgpack:"reason"`
	ServerUpdatedAt int64  `json:"server_updated_at,omitempty" msgpack:"server_updated_at"`
}

// BatchResult summarizes one reconciled batch
type BatchResult struct {
	Outcomes   []Outcome `json:"outcomes"`
	Applied    int       `json:"applied"`
	Duplicates int       `json:"duplicates"`
	Rejected   int       `json:"rejected"`
}

// Reconciler applies mutation batches. Each op runs in its own transaction
// together with its idempotence record; a batch is deliberately not atomic
// so partial progress survives intermittent connectivity.
type Reconciler struct {
	db        *sql.DB
	inventory *inventory.Service
	applied   *AppliedOpsRepository
	emitter   events.Emitter
	tiebreak  string
	log       zerolog.Logger
}

// NewReconciler creates a reconciler. tiebreak selects the equal-timestamp
// rule: origin_lex (default) or server_wins.
func NewReconciler(db *sql.DB, inv *inventory.Service, emitter events.Emitter, tiebreak string, log zerolog.Logger) *Reconciler {
	if tiebreak != TiebreakServerWins {
		tiebreak = TiebreakOriginLex
	}
	return &Reconciler{
		db:        db,
		inventory: inv,
		applied:   NewAppliedOpsRepository(db, log),
		emitter:   emitter,
		tiebreak:  tiebreak,
		log:       log.With().Str("service", "sync").Logger(),
	}
}

// AppliedOps exposes the repository for the retention job
func (r *Reconciler) AppliedOps() *AppliedOpsRepository {
	return r.applied
}

// ApplyBatch reconciles a batch in client order, except that delta ops
// targeting the same (vintage, location) apply in op_id lexicographic order
// so concurrent clients converge on the same rejection set.
func (r *Reconciler) ApplyBatch(ops []Operation) BatchResult {
	ordered := orderBatch(ops)

	result := BatchResult{Outcomes: make([]Outcome, 0, len(ordered))}
	for _, op := range ordered {
		outcome := r.applyOne(op)
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Status {
		case StatusApplied:
			result.Applied++
		case StatusDuplicate:
			result.Duplicates++
		default:
			result.Rejected++
		}
	}

	if r.emitter != nil && len(ops) > 0 {
		r.emitter.Emit("sync", &events.SyncBatchAppliedData{
			Origin:     batchOrigin(ops),
			Applied:    result.Applied,
			Duplicates: result.Duplicates,
			Rejected:   result.Rejected,
		})
	}

	r.log.Info().
		Int("ops", len(ops)).
		Int("applied", result.Applied).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected).
		Msg("Sync batch reconciled")
	return result
}

// applyOne runs the op state machine:
// received → duplicate → skipped, or validated → applying → terminal.
func (r *Reconciler) applyOne(op Operation) Outcome {
	if err := validateEnvelope(op); err != nil {
		return rejectedOutcome(op.OpID, err)
	}

	hash := payloadHash(op)

	var outcome Outcome
	var publish func()
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		existing, err := r.applied.GetTx(tx, op.OpID)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = replayOutcome(op.OpID, existing, hash)
			return nil
		}

		applied, pub, err := r.dispatch(tx, op)
		if err != nil {
			return err
		}
		outcome = applied
		publish = pub
		return r.applied.RecordTx(tx, op.OpID, hash, outcome)
	})
	if err != nil {
		outcome = rejectedOutcome(op.OpID, err)
		// Deterministic rejections are recorded so replays reproduce the
		// decision; transient failures stay unrecorded and retryable.
		if recordable(domain.KindOf(err)) {
			r.recordRejection(op.OpID, hash, outcome)
		}
		return outcome
	}
	if publish != nil {
		publish()
	}
	return outcome
}

// replayOutcome is the no-op path for a previously recorded op_id
func replayOutcome(opID string, existing *AppliedOp, hash string) Outcome {
	if existing.PayloadHash != hash {
		return Outcome{
			OpID:   opID,
			Status: StatusRejected,
			Code:   string(domain.KindInvalidArgument),
			Reason: "op_id collision: payload differs from previously applied operation",
		}
	}
	if existing.Outcome.Status == StatusApplied {
		return Outcome{
			OpID:            opID,
			Status:          StatusDuplicate,
			ServerUpdatedAt: existing.Outcome.ServerUpdatedAt,
		}
	}
	// A recorded rejection is final; report it unchanged
	return existing.Outcome
}

// dispatch validates and applies one op inside tx, returning the outcome
// and the event publication to run after commit.
func (r *Reconciler) dispatch(tx *sql.Tx, op Operation) (Outcome, func(), error) {
	sync := domain.SyncMeta{
		OpID:      op.OpID,
		UpdatedAt: op.UpdatedAt,
		UpdatedBy: op.UpdatedBy,
		Origin:    op.Origin,
	}

	switch op.Endpoint {
	case EndpointConsume, EndpointReceive, EndpointReserve, EndpointUnreserve:
		return r.applyDelta(tx, op, sync)
	case EndpointMove:
		return r.applyMove(tx, op, sync)
	case EndpointWineMeta:
		return r.applyMetadata(tx, op, sync, false)
	case EndpointVintageMeta:
		return r.applyMetadata(tx, op, sync, true)
	default:
		return Outcome{}, nil, domain.InvalidArgument("unknown sync endpoint %q", op.Endpoint)
	}
}

type deltaPayload struct {
	VintageID int64   `json:"vintage_id"`
	Location  string  `json:"location"`
	Quantity  float64 `json:"quantity"`
	UnitCost  float64 `json:"unit_cost,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

func (r *Reconciler) applyDelta(tx *sql.Tx, op Operation, sync domain.SyncMeta) (Outcome, func(), error) {
	var p deltaPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Outcome{}, nil, domain.InvalidArgument("malformed payload for %s: %v", op.Endpoint, err)
	}

	req := inventory.MutationRequest{
		VintageID: p.VintageID,
		Location:  p.Location,
		Quantity:  p.Quantity,
		Notes:     p.Notes,
		CreatedBy: op.UpdatedBy,
		Sync:      sync,
	}

	var stock *domain.Stock
	var action string
	var err error
	switch op.Endpoint {
	case EndpointConsume:
		action = inventory.ActionRemove
		stock, err = r.inventory.ConsumeTx(tx, req)
	case EndpointReceive:
		action = inventory.ActionAdd
		stock, err = r.inventory.ReceiveStockTx(tx, inventory.ReceiveStockRequest{
			VintageID: p.VintageID,
			Location:  p.Location,
			Quantity:  p.Quantity,
			UnitCost:  p.UnitCost,
			Notes:     p.Notes,
			CreatedBy: op.UpdatedBy,
			Sync:      sync,
		})
	case EndpointReserve:
		action = inventory.ActionReserve
		stock, err = r.inventory.ReserveTx(tx, req)
	case EndpointUnreserve:
		action = inventory.ActionUnreserve
		stock, err = r.inventory.UnreserveTx(tx, req)
	}
	if err != nil {
		return Outcome{}, nil, err
	}

	snapshot := *stock
	publish := func() {
		r.inventory.PublishAction(events.InventoryActionData{
			Action:    action,
			VintageID: p.VintageID,
			Location:  p.Location,
			Quantity:  p.Quantity,
			CreatedBy: op.UpdatedBy,
		}, snapshot)
	}
	return appliedOutcome(op.OpID, time.Now().Unix()), publish, nil
}

type movePayload struct {
	VintageID int64   `json:"vintage_id"`
	From      string  `json:"from_location"`
	To        string  `json:"to_location"`
	Quantity  float64 `json:"quantity"`
	Notes     string  `json:"notes,omitempty"`
}

func (r *Reconciler) applyMove(tx *sql.Tx, op Operation, sync domain.SyncMeta) (Outcome, func(), error) {
	var p movePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Outcome{}, nil, domain.InvalidArgument("malformed payload for %s: %v", op.Endpoint, err)
	}

	from, to, err := r.inventory.MoveTx(tx, inventory.MoveRequest{
		VintageID: p.VintageID,
		From:      p.From,
		To:        p.To,
		Quantity:  p.Quantity,
		Notes:     p.Notes,
		CreatedBy: op.UpdatedBy,
		Sync:      sync,
	})
	if err != nil {
		return Outcome{}, nil, err
	}

	fromSnap, toSnap := *from, *to
	publish := func() {
		r.inventory.PublishAction(events.InventoryActionData{
			Action:     inventory.ActionMove,
			VintageID:  p.VintageID,
			Location:   p.From,
			ToLocation: p.To,
			Quantity:   p.Quantity,
			CreatedBy:  op.UpdatedBy,
		}, fromSnap)
		r.inventory.PublishStock(toSnap)
	}
	return appliedOutcome(op.OpID, time.Now().Unix()), publish, nil
}

type metadataPayload struct {
	WineID    int64                  `json:"wine_id,omitempty"`
	VintageID int64                  `json:"vintage_id,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
}

// applyMetadata performs last-write-wins on updated_at. The incoming
// update overwrites only when strictly newer; ties fall to the configured
// tiebreak; a losing update is still a successfully reconciled op.
func (r *Reconciler) applyMetadata(tx *sql.Tx, op Operation, sync domain.SyncMeta, vintage bool) (Outcome, func(), error) {
	var p metadataPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Outcome{}, nil, domain.InvalidArgument("malformed payload for %s: %v", op.Endpoint, err)
	}
	if len(p.Fields) == 0 {
		return Outcome{}, nil, domain.InvalidArgument("%s requires a non-empty fields map", op.Endpoint)
	}

	var stored *domain.SyncMeta
	var err error
	var id int64
	if vintage {
		id = p.VintageID
		if id <= 0 {
			return Outcome{}, nil, domain.InvalidArgument("%s requires vintage_id", op.Endpoint)
		}
		stored, err = r.inventory.Vintages().SyncMetaTx(tx, id)
	} else {
		id = p.WineID
		if id <= 0 {
			return Outcome{}, nil, domain.InvalidArgument("%s requires wine_id", op.Endpoint)
		}
		stored, err = r.inventory.Wines().SyncMetaTx(tx, id)
	}
	if err != nil {
		return Outcome{}, nil, err
	}
	if stored == nil {
		return Outcome{}, nil, domain.NotFound("%s: row %d not found", op.Endpoint, id)
	}

	if !r.incomingWins(op, stored) {
		// Losing update: keep the server value, report the winning clock
		return appliedOutcome(op.OpID, stored.UpdatedAt), nil, nil
	}

	if vintage {
		err = r.inventory.Vintages().UpdateFieldsTx(tx, id, p.Fields, sync)
	} else {
		err = r.inventory.Wines().UpdateFieldsTx(tx, id, p.Fields, sync)
	}
	if err != nil {
		return Outcome{}, nil, err
	}
	return appliedOutcome(op.OpID, op.UpdatedAt), nil, nil
}

// incomingWins applies LWW: strictly newer wins, strictly older loses,
// equal timestamps fall to the tiebreak rule.
func (r *Reconciler) incomingWins(op Operation, stored *domain.SyncMeta) bool {
	if op.UpdatedAt != stored.UpdatedAt {
		return op.UpdatedAt > stored.UpdatedAt
	}
	if r.tiebreak == TiebreakServerWins {
		return false
	}
	return op.Origin > stored.Origin
}

func (r *Reconciler) recordRejection(opID, hash string, outcome Outcome) {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return r.applied.RecordTx(tx, opID, hash, outcome)
	})
	if err != nil {
		// A concurrent replay may have recorded the same op first
		r.log.Warn().Err(err).Str("op_id", opID).Msg("Failed to record rejection")
	}
}

func validateEnvelope(op Operation) error {
	if op.OpID == "" {
		return domain.InvalidArgument("operation missing op_id")
	}
	if op.UpdatedAt <= 0 {
		return domain.InvalidArgument("operation %s missing updated_at", op.OpID)
	}
	if op.Origin == "" {
		return domain.InvalidArgument("operation %s missing origin", op.OpID)
	}
	if op.Endpoint == "" {
		return domain.InvalidArgument("operation %s missing endpoint", op.OpID)
	}
	return nil
}

// recordable reports whether a rejection is deterministic and should be
// stored for replay. Storage faults and cancellation stay retryable.
func recordable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindInvalidArgument, domain.KindNotFound, domain.KindInventoryConflict:
		return true
	}
	return false
}

func appliedOutcome(opID string, serverUpdatedAt int64) Outcome {
	return Outcome{
		OpID:            opID,
		Status:          StatusApplied,
		ServerUpdatedAt: serverUpdatedAt,
	}
}

func rejectedOutcome(opID string, err error) Outcome {
	return Outcome{
		OpID:   opID,
		Status: StatusRejected,
		Code:   string(domain.KindOf(err)),
		Reason: err.Error(),
	}
}

// payloadHash canonicalizes the payload (sorted keys, no whitespace) and
// hashes it with the endpoint and method, to detect op_id collisions.
func payloadHash(op Operation) string {
	canonical := op.Payload
	var decoded interface{}
	if len(op.Payload) > 0 && json.Unmarshal(op.Payload, &decoded) == nil {
		if b, err := json.Marshal(decoded); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256([]byte(op.Endpoint + "|" + op.Method + "|" + string(canonical)))
	return hex.EncodeToString(sum[:])
}

// orderBatch keeps client order except that delta ops sharing a
// (vintage, location) key are reordered into op_id lexicographic order
// within the positions that group occupies.
func orderBatch(ops []Operation) []Operation {
	groups := make(map[string][]int)
	for i, op := range ops {
		key, ok := deltaKey(op)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], i)
	}

	out := make([]Operation, len(ops))
	copy(out, ops)
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		sub := make([]Operation, len(idxs))
		for j, i := range idxs {
			sub[j] = ops[i]
		}
		sort.Slice(sub, func(a, b int) bool { return sub[a].OpID < sub[b].OpID })
		for j, i := range idxs {
			out[i] = sub[j]
		}
	}
	return out
}

// deltaKey extracts the serialization key for a delta op. Moves are keyed
// by their source location, the side the balance check constrains.
func deltaKey(op Operation) (string, bool) {
	switch op.Endpoint {
	case EndpointConsume, EndpointReceive, EndpointReserve, EndpointUnreserve:
		var p deltaPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return "", false
		}
		return fmt.Sprintf("%d|%s", p.VintageID, p.Location), true
	case EndpointMove:
		var p movePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return "", false
		}
		return fmt.Sprintf("%d|%s", p.VintageID, p.From), true
	}
	return "", false
}

func batchOrigin(ops []Operation) string {
	origin := ops[0].Origin
	for _, op := range ops[1:] {
		if op.Origin != origin {
			return "mixed"
		}
	}
	return origin
}
