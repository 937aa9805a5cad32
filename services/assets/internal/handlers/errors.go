package handlers

import (
	"errors"
	"maps"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/scout-platform/internal/platform/api"
	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/executor"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

// writeError maps domain errors onto the platform error envelope. extra is
// merged into the details of the response.
func (h *Admin) writeError(w http.ResponseWriter, rid string, err error, extra map[string]any) {
	var (
		verr *asset.ValidationError
		xerr *executor.ExecutionError
		ierr *asset.InvariantViolation

		status  int
		code    string
		msg     string
		details map[string]any
	)
	switch {
	case errors.As(err, &verr):
		status, code, msg = http.StatusBadRequest, "VALIDATION_FAILED", verr.Error()
		details = make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			details[k] = v
		}
	case isSessionConflict(err):
		code, _ = sessionConflict(err)
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, storeclient.ErrInvalidCursor):
		status, code, msg = http.StatusBadRequest, "INVALID_CURSOR", "cursor is not valid"
	case errors.As(err, &xerr):
		h.log.Warn("variant plan aborted", zap.String("request_id", rid), zap.Error(err))
		status, code, msg = http.StatusConflict, "PLAN_ABORTED", "plan aborted; re-submit to resume"
		details = map[string]any{
			"failed_index":  xerr.Index,
			"operation":     xerr.Operation,
			"applied_count": xerr.Index,
			"error":         xerr.Err.Error(),
		}
	case errors.Is(err, storeclient.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", "asset not found"
	case errors.As(err, &ierr):
		h.log.Error("planner invariant violated", zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
		return
	case errors.Is(err, storeclient.ErrTransferFailed), errors.Is(err, storeclient.ErrTransferCanceled):
		h.log.Warn("binary transfer failed", zap.String("request_id", rid), zap.Error(err))
		status, code, msg = http.StatusBadGateway, "TRANSFER_FAILED", "binary transfer failed"
	default:
		h.log.Error("request failed", zap.String("request_id", rid), zap.Error(err))
		status, code, msg = http.StatusInternalServerError, "INTERNAL", "Internal server error"
	}
	if len(extra) > 0 {
		if details == nil {
			details = make(map[string]any, len(extra))
		}
		maps.Copy(details, extra)
	}
	api.WriteError(w, status, code, msg, rid, details)
}

func isSessionConflict(err error) bool {
	_, ok := sessionConflict(err)
	return ok
}
