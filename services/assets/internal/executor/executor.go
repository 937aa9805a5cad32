// Package executor applies a reconcile.VariantPlan to the document store,
// one operation at a time. It stops at the first failure and never rolls
// back; a re-plan from the resulting state finishes the job.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/scout-platform/internal/platform/logging"
	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/reconcile"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

// Failure names the operation that stopped a run.
type Failure struct {
	Index     int                 `json:"index"`
	Operation reconcile.Operation `json:"operation"`
	Err       error               `json:"-"`
}

// Result reports how far a run got. FailedAt is nil on success.
type Result struct {
	AppliedCount int      `json:"appliedCount"`
	FailedAt     *Failure `json:"failedAt,omitempty"`
	// CreatedIDs maps plan indexes of applied creates to store-assigned ids.
	CreatedIDs map[int]string `json:"createdIds,omitempty"`
}

// ExecutionError is returned alongside a Result whose FailedAt is set.
type ExecutionError struct {
	Index     int
	Operation reconcile.Operation
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("operation %d (%s) failed: %v", e.Index, e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type Executor struct {
	Docs       storeclient.Documents
	Collection string
	Log        *zap.Logger
	Now        func() time.Time
}

func New(docs storeclient.Documents, log *zap.Logger) *Executor {
	return &Executor{Docs: docs, Collection: asset.Collection, Log: logging.OrNop(log), Now: time.Now}
}

// ExecutePlan applies p in order. On failure it returns the partial Result
// together with an *ExecutionError; operations after the failed one are not
// attempted.
func (e *Executor) ExecutePlan(ctx context.Context, p reconcile.VariantPlan) (Result, error) {
	log := logging.OrNop(e.Log)
	var res Result
	for i, op := range p.Operations {
		if err := ctx.Err(); err != nil {
			return e.abort(log, res, i, op, err)
		}
		id, err := e.apply(ctx, op)
		if err != nil {
			return e.abort(log, res, i, op, err)
		}
		if op.Kind == reconcile.KindCreate {
			if res.CreatedIDs == nil {
				res.CreatedIDs = make(map[int]string)
			}
			res.CreatedIDs[i] = id
		}
		res.AppliedCount++
	}
	log.Info("plan applied", zap.String("base_id", p.BaseID), zap.Int("operations", res.AppliedCount))
	return res, nil
}

func (e *Executor) abort(log *zap.Logger, res Result, i int, op reconcile.Operation, err error) (Result, error) {
	res.FailedAt = &Failure{Index: i, Operation: op, Err: err}
	log.Warn("plan aborted",
		zap.Int("index", i),
		zap.String("operation", op.String()),
		zap.Int("applied", res.AppliedCount),
		zap.Error(err),
	)
	return res, &ExecutionError{Index: i, Operation: op, Err: err}
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Executor) collection() string {
	if e.Collection == "" {
		return asset.Collection
	}
	return e.Collection
}

func (e *Executor) apply(ctx context.Context, op reconcile.Operation) (string, error) {
	switch op.Kind {
	case reconcile.KindDelete:
		return "", e.Docs.DeleteDocument(ctx, e.collection(), op.RecordID)
	case reconcile.KindUpdate, reconcile.KindPromote:
		patch := op.Patch()
		patch[asset.FieldUpdatedAt] = e.now()
		return "", e.Docs.UpdateDocument(ctx, e.collection(), op.RecordID, patch)
	case reconcile.KindCreate:
		if op.Record == nil {
			return "", errors.New("create without a record")
		}
		rec := op.Record.Clone()
		rec.ID = ""
		rec.CreatedAt = e.now()
		rec.UpdatedAt = rec.CreatedAt
		doc, err := asset.ToDocument(rec)
		if err != nil {
			return "", err
		}
		return e.Docs.CreateDocument(ctx, e.collection(), doc)
	}
	return "", fmt.Errorf("unknown operation kind %q", op.Kind)
}
