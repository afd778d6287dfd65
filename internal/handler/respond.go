package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// conflictResponse lets the display show who changed the order and offer a
// reapply against the current version.
type conflictResponse struct {
	Error     string      `json:"error"`
	Outcome   string      `json:"outcome"`
	Current   order.Order `json:"current"`
	Status    string      `json:"status"`
	Version   int64       `json:"version"`
	UpdatedBy string      `json:"updated_by,omitempty"`
}

type lockDeniedResponse struct {
	Error      string `json:"error"`
	Outcome    string `json:"outcome"`
	HolderID   string `json:"holder_id,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
}

// writeServiceError maps kitchen service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var conflict *service.ConflictError
	var denied *service.LockDeniedError

	switch {
	case errors.As(err, &conflict):
		by := conflict.Current.UpdatedByName
		if by == "" {
			by = conflict.Current.UpdatedBy
		}
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:     err.Error(),
			Outcome:   "conflict",
			Current:   conflict.Current,
			Status:    string(conflict.Current.Status),
			Version:   conflict.Current.Version,
			UpdatedBy: by,
		})
	case errors.As(err, &denied):
		writeJSON(w, http.StatusLocked, lockDeniedResponse{
			Error:      err.Error(),
			Outcome:    "lock_denied",
			HolderID:   denied.Lock.HolderID,
			HolderName: denied.Lock.HolderName,
		})
	case errors.Is(err, service.ErrGone):
		writeJSON(w, http.StatusGone, map[string]string{"error": "order no longer exists", "outcome": "gone"})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "outcome": "invalid"})
	case errors.Is(err, service.ErrLockingDisabled):
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrUnreachable):
		slog.ErrorContext(r.Context(), op, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "order backend unavailable", "outcome": "unreachable"})
	default:
		slog.ErrorContext(r.Context(), op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
