package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/token-ledger/internal/errors"
	"github.com/openclaw/token-ledger/internal/httputil"
	"github.com/openclaw/token-ledger/internal/service"
)

type AccountHandler struct {
	accounting *service.AccountingService
	events     *UsageEventsHandler
}

// NewAccountHandler builds the /v1/accounts API. events may be nil, in which
// case the event stream answers 503.
func NewAccountHandler(accounting *service.AccountingService, events *UsageEventsHandler) *AccountHandler {
	return &AccountHandler{
		accounting: accounting,
		events:     events,
	}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Bootstrap)
	r.Get("/", h.List)

	r.Route("/{accountID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/remaining", h.Remaining)
		r.Post("/usage", h.RecordUsage)
		r.Get("/usage", h.UsageHistory)
		r.Get("/summary", h.Summary)
		r.Post("/reset", h.Reset)
		r.Put("/limit", h.SetLimit)
		r.Get("/events", h.Events)
	})

	return r
}

// POST /v1/accounts
func (h *AccountHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Role       string `json:"role"`
		TokenLimit *int64 `json:"tokenLimit"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("id"))
		return
	}

	account, err := h.accounting.BootstrapAccount(r.Context(), service.BootstrapParams{
		ID:         req.ID,
		Name:       req.Name,
		Role:       req.Role,
		TokenLimit: req.TokenLimit,
	})
	if err != nil {
		h.fail(w, err, "failed to bootstrap account")
		return
	}

	writeJSON(w, http.StatusOK, formatAccount(*account))
}

// GET /v1/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounting.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list accounts")
		return
	}

	items := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, formatAccount(account))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// GET /v1/accounts/{accountID}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounting.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, err, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, formatAccount(*account))
}

// GET /v1/accounts/{accountID}/remaining
// Negative values mean the account is over quota.
func (h *AccountHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	remaining, err := h.accounting.RemainingTokens(r.Context(), accountID)
	if err != nil {
		h.fail(w, err, "failed to get remaining tokens")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": accountID,
		"remaining": remaining,
	})
}

// POST /v1/accounts/{accountID}/usage
// Unknown accounts are provisioned with defaults before the usage is applied.
func (h *AccountHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens  int64   `json:"tokens"`
		CostUSD float64 `json:"costUsd"`
		Model   string  `json:"model"`
		Task    string  `json:"task"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	event, err := h.accounting.RecordUsage(r.Context(), service.RecordUsageParams{
		AccountID: chi.URLParam(r, "accountID"),
		Tokens:    req.Tokens,
		CostUSD:   req.CostUSD,
		Model:     req.Model,
		Task:      req.Task,
	})
	if err != nil {
		h.fail(w, err, "failed to record usage")
		return
	}

	writeJSON(w, http.StatusCreated, formatUsageEvent(*event))
}

// GET /v1/accounts/{accountID}/usage?limit=&offset=
func (h *AccountHandler) UsageHistory(w http.ResponseWriter, r *http.Request) {
	pagination := ParsePagination(r)

	events, err := h.accounting.UsageHistory(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, err, "failed to get usage history")
		return
	}

	total := len(events)
	start, end := pagination.Window(total)

	items := make([]map[string]any, 0, end-start)
	for _, event := range events[start:end] {
		items = append(items, formatUsageEvent(event))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  pagination.Limit,
		"offset": pagination.Offset,
	})
}

// GET /v1/accounts/{accountID}/summary
func (h *AccountHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.accounting.UsageSummary(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, err, "failed to summarize usage")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// POST /v1/accounts/{accountID}/reset
func (h *AccountHandler) Reset(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounting.ResetUsage(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, err, "failed to reset usage")
		return
	}

	writeJSON(w, http.StatusOK, formatAccount(*account))
}

// PUT /v1/accounts/{accountID}/limit
func (h *AccountHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenLimit *int64 `json:"tokenLimit"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.TokenLimit == nil {
		httputil.WriteError(w, apperrors.MissingRequired("tokenLimit"))
		return
	}

	account, err := h.accounting.SetLimit(r.Context(), chi.URLParam(r, "accountID"), *req.TokenLimit)
	if err != nil {
		h.fail(w, err, "failed to set token limit")
		return
	}

	writeJSON(w, http.StatusOK, formatAccount(*account))
}

// GET /v1/accounts/{accountID}/events
func (h *AccountHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		httputil.WriteError(w, apperrors.Unavailable("Usage event stream"))
		return
	}
	h.events.Stream(w, r, chi.URLParam(r, "accountID"))
}

func (h *AccountHandler) fail(w http.ResponseWriter, err error, msg string) {
	if !apperrors.IsNotFound(err) {
		log.Error().Err(err).Msg(msg)
	}
	httputil.WriteError(w, err)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return apperrors.ValidationError("Request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.ValidationError("Request body is required")
		default:
			return apperrors.ValidationError("Invalid request body")
		}
	}
	return nil
}
