package calendar

import (
	"errors"

	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

// Failure reason codes shared by bulk results and the HTTP adapter.
const (
	ReasonConflict   = "conflict"
	ReasonNotFound   = "not_found"
	ReasonValidation = "validation"
	ReasonInternal   = "internal"
)

// FailureReason classifies an error from a calendar operation into a bulk
// failure code. Stale optimistic writes count as conflicts: the caller lost
// a race and must refresh.
func FailureReason(err error) string {
	var conflict *ConflictError
	var overlap *store.OverlapError
	switch {
	case errors.As(err, &conflict), errors.As(err, &overlap), errors.Is(err, store.ErrStaleSequence):
		return ReasonConflict
	case errors.Is(err, store.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, model.ErrValidation):
		return ReasonValidation
	default:
		return ReasonInternal
	}
}
