/*
ledger.go - In-memory owner of all grants

PURPOSE:

	The Ledger holds every grant in insertion order and answers balance
	questions. Spend validates against the total balance and then hands the
	grants to the SpendAllocator.

INVARIANTS:
  - Sum of all grant Points equals the spendable balance
  - A failed Spend leaves every grant untouched
  - Stored order is insertion order; Spend never reorders it

CONCURRENCY:
  A single RWMutex guards the grant list and every grant's Points. Spend
  holds the write lock for validation and allocation together, since the
  allocator reads payer balances and mutates grants in one pass.

SEE ALSO:
  - allocator.go: The allocation algorithm
  - service.go: Persistence around Spend
*/
package points

import (
	"sync"
	"time"
)

// Ledger owns the grant list.
type Ledger struct {
	mu        sync.RWMutex
	grants    []*Grant
	nextSeq   int64
	allocator SpendAllocator
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// AddGrant records a new grant and returns it. Points may be negative
// (payer adjustments); they count toward balances but are never spent.
func (l *Ledger) AddGrant(payer string, points int64, timestamp time.Time) Grant {
	return l.Append(Grant{
		Payer:     payer,
		Points:    points,
		Granted:   points,
		Timestamp: timestamp,
	})
}

// Append adds a grant as-is, assigning Seq when it is unset. Used when
// rebuilding the ledger from a store.
func (l *Ledger) Append(g Grant) Grant {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g.Seq == 0 {
		l.nextSeq++
		g.Seq = l.nextSeq
	} else if g.Seq > l.nextSeq {
		l.nextSeq = g.Seq
	}

	stored := g
	l.grants = append(l.grants, &stored)
	return stored
}

// Grants returns a copy of every grant in stored order.
func (l *Ledger) Grants() []Grant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Grant, len(l.grants))
	for i, g := range l.grants {
		out[i] = *g
	}
	return out
}

// Len returns the number of grants, consumed ones included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.grants)
}

// TotalBalance sums remaining points across all grants.
func (l *Ledger) TotalBalance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalLocked()
}

func (l *Ledger) totalLocked() int64 {
	var total int64
	for _, g := range l.grants {
		total += g.Points
	}
	return total
}

// PayerBalance sums remaining points for one payer. Unknown payers have zero.
func (l *Ledger) PayerBalance(payer string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, g := range l.grants {
		if g.Payer == payer {
			total += g.Points
		}
	}
	return total
}

// PayerBalances returns per-payer sums ordered by each payer's first
// appearance in stored order.
func (l *Ledger) PayerBalances() []PayerBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	index := make(map[string]int)
	var out []PayerBalance
	for _, g := range l.grants {
		i, ok := index[g.Payer]
		if !ok {
			i = len(out)
			index[g.Payer] = i
			out = append(out, PayerBalance{Payer: g.Payer})
		}
		out[i].Points += g.Points
	}
	return out
}

// BalanceMap is PayerBalances keyed by payer.
func (l *Ledger) BalanceMap() map[string]int64 {
	balances := l.PayerBalances()
	out := make(map[string]int64, len(balances))
	for _, b := range balances {
		out[b.Payer] = b.Points
	}
	return out
}

// Spend deducts points from the ledger, oldest grants first.
//
// A non-positive request is a no-op with an empty allocation. A request above
// the total balance fails with *InsufficientBalanceError before any grant is
// touched.
func (l *Ledger) Spend(points int64) (Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if points <= 0 {
		return Allocation{Requested: points}, nil
	}

	available := l.totalLocked()
	if points > available {
		return Allocation{}, &InsufficientBalanceError{Requested: points, Available: available}
	}

	return l.allocator.Allocate(l.grants, points), nil
}

// =============================================================================
// SNAPSHOT / RESTORE - memory rollback when persistence fails
// =============================================================================

type ledgerSnapshot struct {
	points  []int64
	length  int
	nextSeq int64
}

func (l *Ledger) snapshot() ledgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := ledgerSnapshot{
		points:  make([]int64, len(l.grants)),
		length:  len(l.grants),
		nextSeq: l.nextSeq,
	}
	for i, g := range l.grants {
		s.points[i] = g.Points
	}
	return s
}

func (l *Ledger) restore(s ledgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.grants = l.grants[:s.length]
	for i, g := range l.grants {
		g.Points = s.points[i]
	}
	l.nextSeq = s.nextSeq
}

func (l *Ledger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.grants = nil
	l.nextSeq = 0
}
