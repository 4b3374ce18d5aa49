// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	grants      []points.Grant
	byID        map[string]int
	spends      []points.SpendRecord
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		byID:        make(map[string]int),
		idempotency: make(map[string]bool),
	}
}

// SaveGrant appends a grant.
func (m *Memory) SaveGrant(_ context.Context, g points.Grant, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" && m.idempotency[idempotencyKey] {
		return points.ErrDuplicateIdempotencyKey
	}

	m.byID[g.ID] = len(m.grants)
	m.grants = append(m.grants, g)
	if idempotencyKey != "" {
		m.idempotency[idempotencyKey] = true
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) LoadGrants(_ context.Context) ([]points.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]points.Grant, len(m.grants))
	copy(result, m.grants)
	return result, nil
}

// RecordSpend applies all deductions or none.
func (m *Memory) RecordSpend(_ context.Context, rec points.SpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything before writing. A grant may appear more than once,
	// so check against what is left after the earlier deductions.
	remaining := make(map[string]int64, len(rec.Allocation.Consumed))
	for _, c := range rec.Allocation.Consumed {
		idx, ok := m.byID[c.GrantID]
		if !ok {
			return fmt.Errorf("grant %s: %w", c.GrantID, points.ErrGrantNotFound)
		}
		left, seen := remaining[c.GrantID]
		if !seen {
			left = m.grants[idx].Points
		}
		if !c.Fits(left) {
			return fmt.Errorf("grant %s: %w", c.GrantID, points.ErrGrantOverdrawn)
		}
		remaining[c.GrantID] = left - c.Points
	}

	for _, c := range rec.Allocation.Consumed {
		m.grants[m.byID[c.GrantID]].Points -= c.Points
	}
	m.spends = append(m.spends, rec)
	return nil
}

func (m *Memory) ListSpends(_ context.Context, limit int) ([]points.SpendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []points.SpendRecord
	for i := len(m.spends) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.spends[i])
	}
	return result, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants = nil
	m.spends = nil
	m.byID = make(map[string]int)
	m.idempotency = make(map[string]bool)
	return nil
}
