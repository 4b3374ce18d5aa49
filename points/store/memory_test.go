package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-ledger/points"
)

func TestMemory_SaveAndLoadKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "b", Payer: "B", Points: 5, Timestamp: ts.Add(time.Hour)}, ""))
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "a", Payer: "A", Points: 5, Timestamp: ts}, ""))

	grants, err := m.LoadGrants(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "b", grants[0].ID)
	assert.Equal(t, "a", grants[1].ID)
}

func TestMemory_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "g1", Payer: "A", Points: 1}, "k"))
	err := m.SaveGrant(ctx, points.Grant{ID: "g2", Payer: "A", Points: 1}, "k")
	assert.ErrorIs(t, err, points.ErrDuplicateIdempotencyKey)

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.Exists(ctx, "other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_RecordSpendIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "g1", Payer: "A", Points: 10}, ""))

	rec := points.SpendRecord{
		ID: "s1",
		Allocation: points.Allocation{
			Requested: 15,
			Consumed: []points.GrantConsumption{
				{GrantID: "g1", Payer: "A", Points: 10},
				{GrantID: "missing", Payer: "B", Points: 5},
			},
		},
	}

	err := m.RecordSpend(ctx, rec)
	assert.ErrorIs(t, err, points.ErrGrantNotFound)

	grants, err := m.LoadGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), grants[0].Points)
}

func TestMemory_RecordSpendOverdrawRollsBack(t *testing.T) {
	// GIVEN: g1 has 100 and g2 has 10
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "g1", Payer: "A", Points: 100}, ""))
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "g2", Payer: "A", Points: 10}, ""))

	// WHEN: A spend takes 50 from g1 and 20 from g2
	err := m.RecordSpend(ctx, points.SpendRecord{
		ID: "s1",
		Allocation: points.Allocation{
			Requested: 70,
			Consumed: []points.GrantConsumption{
				{GrantID: "g1", Payer: "A", Points: 50},
				{GrantID: "g2", Payer: "A", Points: 20},
			},
		},
	})

	// THEN: Nothing is written
	assert.ErrorIs(t, err, points.ErrGrantOverdrawn)

	grants, err := m.LoadGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), grants[0].Points)
	assert.Equal(t, int64(10), grants[1].Points)

	spends, err := m.ListSpends(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, spends)
}

func TestMemory_RecordSpendNegativeGrantWholeOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "adj", Payer: "A", Points: -200}, ""))

	partial := points.SpendRecord{ID: "s1", Allocation: points.Allocation{
		Consumed: []points.GrantConsumption{{GrantID: "adj", Payer: "A", Points: -100}},
	}}
	assert.ErrorIs(t, m.RecordSpend(ctx, partial), points.ErrGrantOverdrawn)

	whole := points.SpendRecord{ID: "s2", Allocation: points.Allocation{
		Consumed: []points.GrantConsumption{{GrantID: "adj", Payer: "A", Points: -200}},
	}}
	require.NoError(t, m.RecordSpend(ctx, whole))

	grants, err := m.LoadGrants(ctx)
	require.NoError(t, err)
	assert.Zero(t, grants[0].Points)
}

func TestMemory_ListSpendsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, m.RecordSpend(ctx, points.SpendRecord{ID: id}))
	}

	all, err := m.ListSpends(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID)

	limited, err := m.ListSpends(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "s2", limited[1].ID)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveGrant(ctx, points.Grant{ID: "g1", Payer: "A", Points: 1}, "k"))

	require.NoError(t, m.Reset(ctx))

	grants, err := m.LoadGrants(ctx)
	require.NoError(t, err)
	assert.Empty(t, grants)
	exists, _ := m.Exists(ctx, "k")
	assert.False(t, exists)
}
