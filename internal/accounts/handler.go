package accounts

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/platform/httpx"
	"github.com/finledger/finledger/internal/shared"
)

type registry interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccountView(ctx context.Context, id uuid.UUID) (AccountView, error)
	SetStatus(ctx context.Context, id uuid.UUID, next AccountStatus) (Account, error)
	ListLedger(ctx context.Context, id uuid.UUID, page, perPage int) ([]ledger.Entry, shared.Pagination, error)
}

// Handler wires HTTP endpoints for the account registry.
type Handler struct {
	logger   *slog.Logger
	service  registry
	validate *validator.Validate
}

// NewHandler constructs an accounts HTTP handler.
func NewHandler(logger *slog.Logger, service registry) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.updateStatus)
	r.Get("/{id}/ledger", h.listLedger)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateAccountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}

	account, err := h.service.CreateAccount(r.Context(), in)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("create account", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": account.ID})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "invalid account id")
		return
	}

	view, err := h.service.GetAccountView(r.Context(), id)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("get account view", slog.Any("error", err), slog.String("id", id.String()))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "invalid account id")
		return
	}

	var in UpdateStatusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}

	account, err := h.service.SetStatus(r.Context(), id, AccountStatus(in.Status))
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("set account status", slog.Any("error", err), slog.String("id", id.String()))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "invalid account id")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	entries, pagination, err := h.service.ListLedger(r.Context(), id, page, perPage)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("list ledger", slog.Any("error", err), slog.String("id", id.String()))
		}
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": pagination,
	})
}
