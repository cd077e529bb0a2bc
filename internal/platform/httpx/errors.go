package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RespondError maps the shared error taxonomy to HTTP responses using RFC7807.
// Business-rule failures surface their message; internal failures do not.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrInsufficientBatchStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Lock Timeout", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
