package offline

import (
	"context"
	"fmt"

	"github.com/sommos/sommos/internal/domain"
	syncpkg "github.com/sommos/sommos/internal/sync"
)

// Applier reconciles mutation batches; satisfied by sync.Reconciler
type Applier interface {
	ApplyBatch(ops []syncpkg.Operation) syncpkg.BatchResult
}

// ReconcilerSender delivers queued ops straight to the reconciler. It
// stands in for the HTTP round trip when client and server share a
// process, and drives the same reconciliation path either way.
type ReconcilerSender struct {
	applier Applier
}

// NewReconcilerSender wraps an applier as a queue sender
func NewReconcilerSender(applier Applier) *ReconcilerSender {
	return &ReconcilerSender{applier: applier}
}

// Send submits one op and interprets its outcome. Applied, duplicate, and
// rejected are all terminal; only storage or cancellation outcomes report
// an error so the queue retries them.
func (s *ReconcilerSender) Send(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := s.applier.ApplyBatch([]syncpkg.Operation{{
		OpID:      op.OpID,
		UpdatedAt: op.UpdatedAt,
		UpdatedBy: op.Headers["X-User-ID"],
		Origin:    op.Origin,
		Endpoint:  op.Endpoint,
		Method:    op.Method,
		Payload:   op.Body,
	}})
	if len(result.Outcomes) == 0 {
		return fmt.Errorf("no outcome for op %s", op.OpID)
	}

	outcome := result.Outcomes[0]
	switch outcome.Code {
	case string(domain.KindStorage), string(domain.KindCancelled):
		return fmt.Errorf("op %s not reconciled: %s", op.OpID, outcome.Reason)
	}
	return nil
}
