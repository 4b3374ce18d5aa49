package points_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/store"
)

// failingStore wraps Memory and fails the selected writes.
type failingStore struct {
	*store.Memory
	failSave  bool
	failSpend bool
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) SaveGrant(ctx context.Context, g points.Grant, key string) error {
	if f.failSave {
		return errStoreDown
	}
	return f.Memory.SaveGrant(ctx, g, key)
}

func (f *failingStore) RecordSpend(ctx context.Context, rec points.SpendRecord) error {
	if f.failSpend {
		return errStoreDown
	}
	return f.Memory.RecordSpend(ctx, rec)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestService(t *testing.T, st points.Store) *points.Service {
	t.Helper()
	svc, err := points.NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func addGrant(t *testing.T, svc *points.Service, payer string, pts int64, ts string) points.Grant {
	t.Helper()
	g, err := svc.AddGrant(context.Background(), points.GrantInput{Payer: payer, Points: pts, Timestamp: mustTime(ts)})
	require.NoError(t, err)
	return g
}

func TestService_SpendPersistsDeductions(t *testing.T) {
	// GIVEN: Two grants in a memory store
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")
	addGrant(t, svc, "B", 100, "2024-01-02T00:00:00Z")

	// WHEN: Spending 150
	alloc, err := svc.Spend(ctx, 150)
	require.NoError(t, err)

	// THEN: The store sees the same remaining amounts as the ledger
	assert.Equal(t, []points.SpendReportEntry{{Payer: "A", Points: -100}, {Payer: "B", Points: -50}}, alloc.Entries)

	stored, err := mem.LoadGrants(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int64(0), stored[0].Points)
	assert.Equal(t, int64(50), stored[1].Points)

	spends, err := svc.Spends(ctx, 0)
	require.NoError(t, err)
	require.Len(t, spends, 1)
	assert.Equal(t, int64(150), spends[0].Allocation.Requested)
}

func TestService_RebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")
	_, err := svc.Spend(ctx, 30)
	require.NoError(t, err)

	reloaded := newTestService(t, mem)

	assert.Equal(t, int64(70), reloaded.TotalBalance())
	assert.Equal(t, svc.Grants(), reloaded.Grants())
}

func TestService_AddGrantValidation(t *testing.T) {
	svc := newTestService(t, store.NewMemory())

	_, err := svc.AddGrant(context.Background(), points.GrantInput{Payer: "   ", Points: 10})
	assert.ErrorIs(t, err, points.ErrInvalidPayer)
	assert.True(t, points.IsClientError(err))
}

func TestService_AddGrantDefaultsTimestamp(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	fixed := mustTime("2024-06-01T12:00:00Z")
	svc.Now = func() time.Time { return fixed }

	g, err := svc.AddGrant(context.Background(), points.GrantInput{Payer: " A ", Points: 10})
	require.NoError(t, err)

	assert.Equal(t, "A", g.Payer)
	assert.True(t, fixed.Equal(g.Timestamp))
	assert.NotEmpty(t, g.ID)
}

func TestService_IdempotencyKeyRejectsReplay(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())

	in := points.GrantInput{Payer: "A", Points: 10, IdempotencyKey: "req-1"}
	_, err := svc.AddGrant(ctx, in)
	require.NoError(t, err)

	_, err = svc.AddGrant(ctx, in)
	assert.ErrorIs(t, err, points.ErrDuplicateIdempotencyKey)
	assert.True(t, points.IsConflict(err))
	assert.Equal(t, int64(10), svc.TotalBalance())
}

func TestService_SaveFailureRollsBackLedger(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory(), failSave: true}
	svc := newTestService(t, fs)

	_, err := svc.AddGrant(context.Background(), points.GrantInput{Payer: "A", Points: 10})

	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, svc.Grants())
}

func TestService_SpendFailureRollsBackLedger(t *testing.T) {
	// GIVEN: A store that accepts grants but rejects spends
	ctx := context.Background()
	fs := &failingStore{Memory: store.NewMemory()}
	svc := newTestService(t, fs)
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")
	fs.failSpend = true

	// WHEN: Spending
	_, err := svc.Spend(ctx, 40)

	// THEN: The ledger still holds the full amount
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, int64(100), svc.TotalBalance())
	assert.Equal(t, int64(100), svc.PayerBalance("A"))
}

func TestService_InsufficientBalanceRecordsNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")

	_, err := svc.Spend(ctx, 101)
	assert.ErrorIs(t, err, points.ErrInsufficientBalance)

	spends, err := svc.Spends(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, spends)
}

func TestService_ZeroSpendRecordsNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")

	alloc, err := svc.Spend(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alloc.Entries)

	spends, err := svc.Spends(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, spends)
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())
	addGrant(t, svc, "A", 100, "2024-01-01T00:00:00Z")

	require.NoError(t, svc.Reset(ctx))

	assert.Empty(t, svc.Grants())
	assert.Empty(t, svc.Balances())
	assert.Zero(t, svc.TotalBalance())
}
