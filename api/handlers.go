/*
handlers.go - HTTP API handlers for the points ledger

ENDPOINTS:

	Grants:
	  POST   /api/grants               Record a grant (Idempotency-Key header optional)
	  GET    /api/grants               All grants in stored order

	Spending:
	  POST   /api/spend                Spend points, returns per-payer deductions
	  GET    /api/spends               Spend history, newest first (?limit=N)

	Balances:
	  GET    /api/balances             Per-payer balances
	  GET    /api/balances/{payer}     One payer's balance

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 409: Idempotency key reused
  - 422: Spend exceeds total balance (includes requested/available)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/points-ledger/points"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *points.Service
	Metrics *Metrics
	Log     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler around the service.
func NewHandler(svc *points.Service, metrics *Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{Service: svc, Metrics: metrics, Log: log}
}

// =============================================================================
// GRANT HANDLERS
// =============================================================================

// CreateGrant records a grant.
// POST /api/grants
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parsePoints(req.Points)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid points", err)
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timestamp format (use RFC3339)", err)
			return
		}
	}

	grant, err := h.Service.AddGrant(r.Context(), points.GrantInput{
		Payer:          req.Payer,
		Points:         amount,
		Timestamp:      ts,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record grant", err)
		return
	}

	h.Metrics.ObserveGrant(grant)
	writeJSON(w, http.StatusCreated, toGrantDTO(grant))
}

// ListGrants returns all grants in stored order.
// GET /api/grants
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants := h.Service.Grants()
	dtos := make([]GrantDTO, len(grants))
	for i, g := range grants {
		dtos[i] = toGrantDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SPEND HANDLERS
// =============================================================================

// Spend deducts points oldest-first and returns per-payer deductions.
// POST /api/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parsePoints(req.Points)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid points", err)
		return
	}

	alloc, err := h.Service.Spend(r.Context(), amount)
	h.Metrics.ObserveSpend(alloc, err)
	if err != nil {
		h.writeServiceError(w, r, "Failed to spend points", err)
		return
	}

	writeJSON(w, http.StatusOK, toSpendEntryDTOs(alloc.Entries))
}

// ListSpends returns spend history.
// GET /api/spends?limit=N
func (h *Handler) ListSpends(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	records, err := h.Service.Spends(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list spends", err)
		return
	}

	dtos := make([]SpendRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toSpendRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// ListBalances returns per-payer balances in first-appearance order.
// GET /api/balances
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toBalanceDTOs(h.Service.Balances()))
}

// GetBalance returns one payer's balance. Unknown payers have zero.
// GET /api/balances/{payer}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	payer := chi.URLParam(r, "payer")
	writeJSON(w, http.StatusOK, BalanceDTO{Payer: payer, Points: h.Service.PayerBalance(payer)})
}

// Health reports liveness and ledger size.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"grants":  len(h.Service.Grants()),
		"balance": h.Service.TotalBalance(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var insufficient *points.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     message,
			Details:   err.Error(),
			Requested: &insufficient.Requested,
			Available: &insufficient.Available,
		})
	case points.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case points.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
