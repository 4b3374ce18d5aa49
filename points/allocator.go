/*
allocator.go - Oldest-first spend allocation

PURPOSE:

	Given the ledger's grants and an amount to spend, decides which grants
	pay for it and by how much. This is the only place grant remaining
	amounts are changed.

ALGORITHM:
 1. Order a view of the grants by Timestamp (stable: ties keep stored order).
    The caller's slice is never reordered.
 2. Walk the view while points remain:
    - Fully consumed grant (zero points): skip
    - Payer guard: if taking the whole grant would leave the payer's
      balance below zero, skip the grant untouched
    - Grant larger than what remains: take the remainder and stop
    - Otherwise: take the whole grant and keep going. A negative
      adjustment grant always lands here; consuming it adds its amount
      back to what remains and zeroes it.
 3. Deductions are folded per payer, ordered by first touch.

EXAMPLE:
  Grants (oldest first): DANNON 300, UNILEVER 200, DANNON -200,
  MILLER COORS 10000, DANNON 1000

	Spend 5000 ->
	  DANNON -100, UNILEVER -200, MILLER COORS -4700

  DANNON's 300 is taken whole, then the -200 adjustment is consumed and
  hands 200 back to the request, which MILLER COORS then covers.

SHORTFALL:
  The sufficiency check only compares against the ledger total, so grants
  skipped by the guard can leave part of a request unallocated. That
  remainder is returned as Allocation.Shortfall rather than an error.

SEE ALSO:
  - ledger.go: Sufficiency check and locking around Allocate
*/
package points

import "sort"

// SpendAllocator allocates a spend across grants, oldest first.
type SpendAllocator struct{}

// Allocate consumes grants in timestamp order until points is satisfied.
//
// grants must be the complete set for the ledger: payer balances used by the
// guard are summed over it. Grants are mutated through their pointers.
// Sufficiency is the caller's responsibility.
func (SpendAllocator) Allocate(grants []*Grant, points int64) Allocation {
	alloc := Allocation{Requested: points}
	if points <= 0 {
		return alloc
	}

	view := make([]*Grant, len(grants))
	copy(view, grants)
	sort.SliceStable(view, func(i, j int) bool {
		return view[i].Timestamp.Before(view[j].Timestamp)
	})

	balances := make(map[string]int64)
	for _, g := range grants {
		balances[g.Payer] += g.Points
	}

	entryIndex := make(map[string]int)
	remaining := points

	for _, g := range view {
		if remaining <= 0 {
			break
		}
		if g.Points == 0 {
			continue
		}
		if balances[g.Payer]-g.Points < 0 {
			continue
		}

		take := g.Points
		if take > remaining {
			take = remaining
		}

		g.Points -= take
		balances[g.Payer] -= take
		remaining -= take

		alloc.Consumed = append(alloc.Consumed, GrantConsumption{
			GrantID: g.ID,
			Payer:   g.Payer,
			Points:  take,
		})

		if i, ok := entryIndex[g.Payer]; ok {
			alloc.Entries[i].Points -= take
		} else {
			entryIndex[g.Payer] = len(alloc.Entries)
			alloc.Entries = append(alloc.Entries, SpendReportEntry{Payer: g.Payer, Points: -take})
		}
	}

	alloc.Shortfall = remaining
	return alloc
}
