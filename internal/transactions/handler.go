package transactions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/platform/httpx"
	"github.com/finledger/finledger/internal/shared"
)

type coordinator interface {
	Deposit(ctx context.Context, in DepositInput) (Result, error)
	Withdraw(ctx context.Context, in WithdrawInput) (Result, error)
	Transfer(ctx context.Context, in TransferInput) (Result, error)
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
}

// Handler wires HTTP endpoints for the transaction coordinator.
type Handler struct {
	logger   *slog.Logger
	service  coordinator
	validate *validator.Validate
}

// NewHandler constructs a transactions HTTP handler.
func NewHandler(logger *slog.Logger, service coordinator) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transaction routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deposit", h.deposit)
	r.Post("/withdraw", h.withdraw)
	r.Post("/transfer", h.transfer)
	r.Get("/{id}", h.get)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	var in DepositInput
	if !h.decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Deposit(r.Context(), in)
	h.respond(w, "deposit", result, err)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var in WithdrawInput
	if !h.decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Withdraw(r.Context(), in)
	h.respond(w, "withdraw", result, err)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var in TransferInput
	if !h.decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.service.Transfer(r.Context(), in)
	h.respond(w, "transfer", result, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "invalid transaction id")
		return
	}

	txn, err := h.service.Get(r.Context(), id)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("get transaction", slog.Any("error", err), slog.String("id", id.String()))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, in any) bool {
	if err := httpx.DecodeJSON(r, in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return false
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, op string, result Result, err error) {
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
