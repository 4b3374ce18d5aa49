/*
service.go - Ledger orchestration with persistence

PURPOSE:

	Glues the in-memory Ledger to a Store. Reads are served from memory;
	writes go to both, and memory is rolled back if the store write fails.

SPEND FLOW:
 1. Take the service lock (one write at a time)
 2. Snapshot grant amounts
 3. Ledger.Spend validates and allocates
 4. Store.RecordSpend persists the deductions atomically
 5. On store failure, restore the snapshot and return the error

EXAMPLE:

	svc, err := points.NewService(ctx, sqliteStore, logger)
	svc.AddGrant(ctx, points.GrantInput{Payer: "DANNON", Points: 300})
	alloc, err := svc.Spend(ctx, 100)

SEE ALSO:
  - ledger.go: In-memory state
  - store.go: Persistence interface
*/
package points

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GrantInput describes a grant to record.
type GrantInput struct {
	Payer     string
	Points    int64
	Timestamp time.Time // zero means now

	// IdempotencyKey rejects replays of the same grant. Optional.
	IdempotencyKey string
}

// Service coordinates the Ledger and its Store.
type Service struct {
	mu     sync.Mutex
	ledger *Ledger
	store  Store
	log    *zap.Logger

	// Now is the clock used for defaults and spend records.
	Now func() time.Time
}

// NewService rebuilds the ledger from the store's grants.
func NewService(ctx context.Context, store Store, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}

	grants, err := store.LoadGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}

	ledger := NewLedger()
	for _, g := range grants {
		ledger.Append(g)
	}

	log.Info("ledger loaded",
		zap.Int("grants", len(grants)),
		zap.Int64("balance", ledger.TotalBalance()),
	)

	return &Service{
		ledger: ledger,
		store:  store,
		log:    log,
		Now:    time.Now,
	}, nil
}

// AddGrant validates and records a grant.
func (s *Service) AddGrant(ctx context.Context, in GrantInput) (Grant, error) {
	payer := strings.TrimSpace(in.Payer)
	if payer == "" {
		return Grant{}, ErrInvalidPayer
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		exists, err := s.store.Exists(ctx, in.IdempotencyKey)
		if err != nil {
			return Grant{}, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if exists {
			return Grant{}, ErrDuplicateIdempotencyKey
		}
	}

	snap := s.ledger.snapshot()
	g := s.ledger.Append(Grant{
		ID:        NewID(),
		Payer:     payer,
		Points:    in.Points,
		Granted:   in.Points,
		Timestamp: ts.UTC(),
	})

	if err := s.store.SaveGrant(ctx, g, in.IdempotencyKey); err != nil {
		s.ledger.restore(snap)
		return Grant{}, fmt.Errorf("failed to save grant: %w", err)
	}

	s.log.Debug("grant recorded",
		zap.String("grant_id", g.ID),
		zap.String("payer", g.Payer),
		zap.Int64("points", g.Points),
		zap.Time("timestamp", g.Timestamp),
	)
	return g, nil
}

// Spend allocates points across the ledger and persists the result.
func (s *Service) Spend(ctx context.Context, points int64) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.ledger.snapshot()
	alloc, err := s.ledger.Spend(points)
	if err != nil {
		s.log.Info("spend rejected", zap.Int64("requested", points), zap.Error(err))
		return Allocation{}, err
	}
	if points <= 0 {
		return alloc, nil
	}

	rec := SpendRecord{ID: NewID(), Allocation: alloc, CreatedAt: s.Now().UTC()}
	if err := s.store.RecordSpend(ctx, rec); err != nil {
		s.ledger.restore(snap)
		return Allocation{}, fmt.Errorf("failed to record spend: %w", err)
	}

	if alloc.Shortfall > 0 {
		s.log.Warn("spend under-allocated by payer guard",
			zap.String("spend_id", rec.ID),
			zap.Int64("requested", points),
			zap.Int64("shortfall", alloc.Shortfall),
		)
	}
	s.log.Info("spend recorded",
		zap.String("spend_id", rec.ID),
		zap.Int64("requested", points),
		zap.Int("payers", len(alloc.Entries)),
		zap.Int("grants", len(alloc.Consumed)),
	)
	return alloc, nil
}

// Balances returns per-payer balances in first-appearance order.
func (s *Service) Balances() []PayerBalance { return s.ledger.PayerBalances() }

// PayerBalance returns one payer's balance; unknown payers have zero.
func (s *Service) PayerBalance(payer string) int64 { return s.ledger.PayerBalance(payer) }

// TotalBalance returns the spendable total.
func (s *Service) TotalBalance() int64 { return s.ledger.TotalBalance() }

// Grants returns all grants in stored order.
func (s *Service) Grants() []Grant { return s.ledger.Grants() }

// Spends returns recorded spends, newest first.
func (s *Service) Spends(ctx context.Context, limit int) ([]SpendRecord, error) {
	return s.store.ListSpends(ctx, limit)
}

// Reset clears the store and the in-memory ledger.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	s.ledger.reset()
	return nil
}
