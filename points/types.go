/*
Package points provides the payer points ledger and the spend allocator.

PURPOSE:

	Payers contribute point grants over time. A spend draws points from the
	ledger oldest grant first, never letting a payer's contributed balance
	go negative, and reports how much was taken from each payer.

KEY CONCEPTS IN THIS FILE (types.go):
  - Grant: A payer's timestamped contribution; Points is the remaining amount
  - SpendReportEntry: Points deducted from one payer by one spend call
  - GrantConsumption: Points deducted from one grant by one spend call
  - Allocation: Everything a single spend call produced

USAGE:

	ledger := points.NewLedger()
	ledger.AddGrant("DANNON", 300, ts)
	alloc, err := ledger.Spend(200)
	for _, e := range alloc.Entries {
	    fmt.Println(e.Payer, e.Points) // DANNON -200
	}

SEE ALSO:
  - allocator.go: The oldest-first allocation algorithm
  - ledger.go: Grant ownership and balance queries
  - service.go: Ledger + Store orchestration
*/
package points

import "time"

// =============================================================================
// GRANT - A payer's contribution of points
// =============================================================================

// Grant is a single point contribution from a payer.
//
// Points is the remaining amount. Positive grants are decremented by the
// allocator and never driven below zero; negative adjustment grants are only
// ever consumed whole. Every other field is fixed once recorded.
type Grant struct {
	ID        string
	Payer     string
	Points    int64
	Granted   int64 // amount originally recorded
	Timestamp time.Time
	Seq       int64 // insertion order, breaks Timestamp ties
}

// Consumed reports whether the grant has nothing left to spend.
func (g Grant) Consumed() bool { return g.Points == 0 }

// =============================================================================
// SPEND REPORT
// =============================================================================

// SpendReportEntry is the total deducted from one payer during one spend call.
// Points is negative, unless a consumed adjustment grant outweighs the
// payer's deductions.
type SpendReportEntry struct {
	Payer  string
	Points int64
}

// GrantConsumption is the amount taken from a specific grant by one spend call.
// Points is negative when an adjustment grant was consumed.
type GrantConsumption struct {
	GrantID string
	Payer   string
	Points  int64
}

// Fits reports whether the consumption can be taken from a grant with the
// given remaining points. Negative grants are only ever consumed whole.
func (c GrantConsumption) Fits(remaining int64) bool {
	if c.Points < 0 {
		return remaining == c.Points
	}
	return remaining >= c.Points
}

// Allocation is the result of a single spend call.
type Allocation struct {
	Requested int64

	// Entries are ordered by the first time each payer was touched.
	Entries []SpendReportEntry

	// Consumed lists per-grant deductions in consumption order.
	Consumed []GrantConsumption

	// Shortfall is Requested minus the net deduction. It is non-zero only
	// when the payer guard skipped grants or an adjustment grant added
	// points back to the request.
	Shortfall int64
}

// Spent returns the net number of points deducted. Consumed adjustment
// grants count against it.
func (a Allocation) Spent() int64 {
	var total int64
	for _, e := range a.Entries {
		total -= e.Points
	}
	return total
}

// =============================================================================
// BALANCES
// =============================================================================

// PayerBalance is the summed remaining points for one payer.
type PayerBalance struct {
	Payer  string
	Points int64
}

// SpendRecord is a persisted spend call.
type SpendRecord struct {
	ID         string
	Allocation Allocation
	CreatedAt  time.Time
}
