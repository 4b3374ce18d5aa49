package points

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetchLedger() *Ledger {
	l := NewLedger()
	l.AddGrant("DANNON", 1000, at("2020-11-02T14:00:00Z"))
	l.AddGrant("UNILEVER", 200, at("2020-10-31T11:00:00Z"))
	l.AddGrant("DANNON", -200, at("2020-10-31T15:00:00Z"))
	l.AddGrant("MILLER COORS", 10000, at("2020-11-01T14:00:00Z"))
	l.AddGrant("DANNON", 300, at("2020-10-31T10:00:00Z"))
	return l
}

func TestLedger_FetchExample(t *testing.T) {
	// GIVEN: Grants recorded out of time order
	l := newFetchLedger()

	// WHEN: Spending 5000
	alloc, err := l.Spend(5000)
	require.NoError(t, err)

	// THEN: Oldest grants pay first, grouped by payer
	assert.Equal(t, []SpendReportEntry{
		{Payer: "DANNON", Points: -100},
		{Payer: "UNILEVER", Points: -200},
		{Payer: "MILLER COORS", Points: -4700},
	}, alloc.Entries)

	assert.Equal(t, []PayerBalance{
		{Payer: "DANNON", Points: 1000},
		{Payer: "UNILEVER", Points: 0},
		{Payer: "MILLER COORS", Points: 5300},
	}, l.PayerBalances())

	// The adjustment grant is consumed
	for _, g := range l.Grants() {
		if g.Granted < 0 {
			assert.True(t, g.Consumed())
		}
	}
}

func TestLedger_PartialThenRemainder(t *testing.T) {
	// GIVEN: A single 300 point grant
	l := NewLedger()
	l.AddGrant("A", 300, at("2024-01-01T00:00:00Z"))

	// WHEN: Spending 100 then 200
	first, err := l.Spend(100)
	require.NoError(t, err)
	second, err := l.Spend(200)
	require.NoError(t, err)

	// THEN: Each spend reports its own deduction and the grant is drained
	assert.Equal(t, []SpendReportEntry{{Payer: "A", Points: -100}}, first.Entries)
	assert.Equal(t, []SpendReportEntry{{Payer: "A", Points: -200}}, second.Entries)
	assert.Zero(t, l.PayerBalance("A"))
}

func TestLedger_SpendConservesTotal(t *testing.T) {
	l := newFetchLedger()
	before := l.TotalBalance()

	alloc, err := l.Spend(1234)
	require.NoError(t, err)

	assert.Equal(t, before-alloc.Spent(), l.TotalBalance())
	assert.Equal(t, int64(1234), alloc.Spent()+alloc.Shortfall)
}

func TestLedger_InsufficientBalanceLeavesGrantsUntouched(t *testing.T) {
	// GIVEN: A ledger with 11300 points
	l := newFetchLedger()
	before := l.Grants()

	// WHEN: Spending more than the total
	_, err := l.Spend(11301)

	// THEN: The error carries both amounts and nothing changed
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(11301), insufficient.Requested)
	assert.Equal(t, int64(11300), insufficient.Available)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, before, l.Grants())
}

func TestLedger_SpendExactTotal(t *testing.T) {
	l := NewLedger()
	l.AddGrant("A", 100, at("2024-01-01T00:00:00Z"))
	l.AddGrant("B", 50, at("2024-01-02T00:00:00Z"))

	alloc, err := l.Spend(150)
	require.NoError(t, err)

	assert.Equal(t, int64(150), alloc.Spent())
	assert.Zero(t, l.TotalBalance())
	for _, g := range l.Grants() {
		assert.True(t, g.Consumed())
	}
}

func TestLedger_NonPositiveSpendIsNoop(t *testing.T) {
	l := newFetchLedger()
	before := l.Grants()

	alloc, err := l.Spend(0)
	require.NoError(t, err)
	assert.Empty(t, alloc.Entries)

	alloc, err = l.Spend(-10)
	require.NoError(t, err)
	assert.Empty(t, alloc.Entries)

	assert.Equal(t, before, l.Grants())
}

func TestLedger_BalancesAreIdempotent(t *testing.T) {
	l := newFetchLedger()

	first := l.PayerBalances()
	second := l.PayerBalances()

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]int64{"DANNON": 1100, "UNILEVER": 200, "MILLER COORS": 10000}, l.BalanceMap())
}

func TestLedger_UnknownPayerHasZeroBalance(t *testing.T) {
	l := newFetchLedger()
	assert.Zero(t, l.PayerBalance("NOBODY"))
	assert.Equal(t, int64(1100), l.PayerBalance("DANNON"))
}

func TestLedger_SpendKeepsStoredOrder(t *testing.T) {
	l := newFetchLedger()
	var before []string
	for _, g := range l.Grants() {
		before = append(before, g.Payer)
	}

	_, err := l.Spend(600)
	require.NoError(t, err)

	var after []string
	for _, g := range l.Grants() {
		after = append(after, g.Payer)
	}
	assert.Equal(t, before, after)
}

func TestLedger_AppendAssignsSeq(t *testing.T) {
	l := NewLedger()
	g1 := l.AddGrant("A", 1, at("2024-01-01T00:00:00Z"))
	g2 := l.Append(Grant{Payer: "B", Points: 1, Seq: 10})
	g3 := l.AddGrant("C", 1, at("2024-01-01T00:00:00Z"))

	assert.Equal(t, int64(1), g1.Seq)
	assert.Equal(t, int64(10), g2.Seq)
	assert.Equal(t, int64(11), g3.Seq)
	assert.Equal(t, 3, l.Len())
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := newFetchLedger()
	snap := l.snapshot()

	_, err := l.Spend(5000)
	require.NoError(t, err)
	l.AddGrant("NEW", 5, at("2024-01-01T00:00:00Z"))

	l.restore(snap)

	assert.Equal(t, 5, l.Len())
	assert.Equal(t, int64(11300), l.TotalBalance())
}

func TestLedger_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 10; i++ {
		l.AddGrant("A", 10, at("2024-01-01T00:00:00Z"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var spent int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := l.Spend(10)
			if err == nil {
				mu.Lock()
				spent += alloc.Spent()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), spent)
	assert.Zero(t, l.TotalBalance())
}
