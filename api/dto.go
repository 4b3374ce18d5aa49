/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:

	Grants:   CreateGrantRequest, GrantDTO
	Spends:   SpendRequest, SpendEntryDTO, SpendRecordDTO, ConsumptionDTO
	Balances: BalanceDTO
	Scenarios: ScenarioDTO, LoadScenarioRequest

POINT AMOUNTS:
  Amounts arrive as json.Number and are parsed with decimal so "100.0" is
  accepted and "100.5" is rejected with a clear message instead of being
  truncated.
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/points-ledger/points"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateGrantRequest is the request to record a grant.
type CreateGrantRequest struct {
	Payer     string      `json:"payer"`
	Points    json.Number `json:"points"`
	Timestamp string      `json:"timestamp,omitempty"` // RFC3339, defaults to now
}

// SpendRequest is the request to spend points.
type SpendRequest struct {
	Points json.Number `json:"points"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// GrantDTO represents a grant in API responses.
type GrantDTO struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Points    int64  `json:"points"`
	Granted   int64  `json:"granted"`
	Timestamp string `json:"timestamp"`
}

// SpendEntryDTO is one payer's deduction.
type SpendEntryDTO struct {
	Payer  string `json:"payer"`
	Points int64  `json:"points"`
}

// ConsumptionDTO is one grant's deduction.
type ConsumptionDTO struct {
	GrantID string `json:"grant_id"`
	Payer   string `json:"payer"`
	Points  int64  `json:"points"`
}

// SpendRecordDTO is a spend in the history listing.
type SpendRecordDTO struct {
	ID        string           `json:"id"`
	Requested int64            `json:"requested"`
	Shortfall int64            `json:"shortfall"`
	Entries   []SpendEntryDTO  `json:"entries"`
	Consumed  []ConsumptionDTO `json:"consumed"`
	CreatedAt string           `json:"created_at"`
}

// BalanceDTO is one payer's balance.
type BalanceDTO struct {
	Payer  string `json:"payer"`
	Points int64  `json:"points"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Requested *int64 `json:"requested,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func parsePoints(n json.Number) (int64, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, points.ErrInvalidPoints
	}
	if !d.IsInteger() || !d.BigInt().IsInt64() {
		return 0, points.ErrInvalidPoints
	}
	return d.IntPart(), nil
}

func toGrantDTO(g points.Grant) GrantDTO {
	return GrantDTO{
		ID:        g.ID,
		Payer:     g.Payer,
		Points:    g.Points,
		Granted:   g.Granted,
		Timestamp: g.Timestamp.Format(time.RFC3339),
	}
}

func toSpendEntryDTOs(entries []points.SpendReportEntry) []SpendEntryDTO {
	dtos := make([]SpendEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = SpendEntryDTO{Payer: e.Payer, Points: e.Points}
	}
	return dtos
}

func toSpendRecordDTO(rec points.SpendRecord) SpendRecordDTO {
	consumed := make([]ConsumptionDTO, len(rec.Allocation.Consumed))
	for i, c := range rec.Allocation.Consumed {
		consumed[i] = ConsumptionDTO{GrantID: c.GrantID, Payer: c.Payer, Points: c.Points}
	}
	return SpendRecordDTO{
		ID:        rec.ID,
		Requested: rec.Allocation.Requested,
		Shortfall: rec.Allocation.Shortfall,
		Entries:   toSpendEntryDTOs(rec.Allocation.Entries),
		Consumed:  consumed,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTOs(balances []points.PayerBalance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = BalanceDTO{Payer: b.Payer, Points: b.Points}
	}
	return dtos
}
