package handler

import (
	"errors"
	"net/http"

	"context-sync-server/internal/domain"
	"context-sync-server/pkg/response"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		syncErr       *domain.SyncError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrNoRecoveryPoints),
		errors.Is(err, domain.ErrSubscriptionNotFound):
		response.NotFound(w, err.Error())

	case errors.Is(err, domain.ErrSyncInProgress):
		response.Conflict(w, err.Error())

	case errors.Is(err, domain.ErrNotInitialized):
		response.ServiceUnavailable(w, err.Error())

	case errors.As(err, &validationErr):
		response.BadRequest(w, err.Error())

	case errors.Is(err, domain.ErrInvalidState):
		response.UnprocessableEntity(w, err.Error())

	case errors.As(err, &syncErr):
		response.BadGateway(w, err.Error())

	default:
		response.InternalError(w, err.Error())
	}
}
