/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built grant sets that show how spending walks grants
	oldest-first regardless of the order they were recorded in.

AVAILABLE SCENARIOS:

	fetch-example:  Three payers, grants recorded out of time order,
	                including a negative adjustment
	single-payer:   One payer, several grants, easy to follow partial spends
	multi-payer:    Payers interleaved in time, for per-payer aggregation

HOW SCENARIOS WORK:
 1. Reset the ledger (clear grants and spend history)
 2. Record each grant through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fetch-example"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: grant and spend handlers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/points-ledger/points"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioGrant struct {
	payer  string
	points int64
	at     string
}

type scenario struct {
	ScenarioDTO
	grants []scenarioGrant
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fetch-example",
			Name:        "Fetch Example",
			Description: "Grants recorded out of order with a negative DANNON adjustment; spending 5000 reports DANNON -100, UNILEVER -200, MILLER COORS -4700",
		},
		grants: []scenarioGrant{
			{"DANNON", 1000, "2020-11-02T14:00:00Z"},
			{"UNILEVER", 200, "2020-10-31T11:00:00Z"},
			{"DANNON", -200, "2020-10-31T15:00:00Z"},
			{"MILLER COORS", 10000, "2020-11-01T14:00:00Z"},
			{"DANNON", 300, "2020-10-31T10:00:00Z"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-payer",
			Name:        "Single Payer",
			Description: "One payer with three monthly grants",
		},
		grants: []scenarioGrant{
			{"ACME", 500, "2024-01-01T00:00:00Z"},
			{"ACME", 250, "2024-02-01T00:00:00Z"},
			{"ACME", 1000, "2024-03-01T00:00:00Z"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "multi-payer",
			Name:        "Multi Payer",
			Description: "Two payers interleaved in time; a large spend aggregates per payer",
		},
		grants: []scenarioGrant{
			{"NORTHWIND", 100, "2024-05-01T09:00:00Z"},
			{"CONTOSO", 300, "2024-05-02T09:00:00Z"},
			{"NORTHWIND", 200, "2024-05-03T09:00:00Z"},
			{"CONTOSO", 400, "2024-05-04T09:00:00Z"},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the last loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, map[string]any{"scenario": s.ScenarioDTO})
}

// LoadScenario resets the ledger and records the scenario's grants.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetLocked(r.Context()); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}

	if err := h.loadScenario(r.Context(), s); err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = s.ID
	h.Log.Info("scenario loaded", zap.String("scenario", s.ID), zap.Int("grants", len(s.grants)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all grants and spends.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetLocked(r.Context()); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetLocked(ctx context.Context) error {
	h.currentScenario = ""
	return h.Service.Reset(ctx)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	for _, sg := range s.grants {
		ts, err := time.Parse(time.RFC3339, sg.at)
		if err != nil {
			return fmt.Errorf("bad timestamp %q: %w", sg.at, err)
		}
		g, err := h.Service.AddGrant(ctx, points.GrantInput{Payer: sg.payer, Points: sg.points, Timestamp: ts})
		if err != nil {
			return fmt.Errorf("failed to add %s grant: %w", sg.payer, err)
		}
		h.Metrics.ObserveGrant(g)
	}
	return nil
}
