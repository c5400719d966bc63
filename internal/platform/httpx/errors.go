package httpx

import (
	"errors"
	"net/http"

	"github.com/finledger/finledger/internal/shared"
)

// RespondError maps ledger domain errors to HTTP responses using RFC7807.
// Every sentinel keeps a stable status so callers can decide whether to
// retry, surface the failure to the end user, or treat it as a bug.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Account State", err.Error())
	case errors.Is(err, shared.ErrCurrencyMismatch):
		Problem(w, http.StatusUnprocessableEntity, "Currency Mismatch", err.Error())
	case errors.Is(err, shared.ErrInsufficientFunds):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Funds", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		Problem(w, http.StatusConflict, "Concurrency Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
