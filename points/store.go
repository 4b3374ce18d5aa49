/*
store.go - Persistence interface for grants and spends

PURPOSE:

	The Ledger lives in memory; a Store keeps it durable. On startup the
	Service replays LoadGrants into a fresh Ledger. Each spend is written
	as one atomic RecordSpend call.

ATOMIC SPENDS:
  RecordSpend decrements every consumed grant and records the spend with
  its payer entries in a single transaction. Either all of it lands or
  none of it does.

IDEMPOTENCY:
  SaveGrant takes an optional idempotency key. A reused key is rejected
  with ErrDuplicateIdempotencyKey so client retries do not double-grant.

IMPLEMENTATIONS:
  - points/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
*/
package points

import "context"

// Store persists grants and spend history.
type Store interface {
	// SaveGrant persists a new grant. An empty key disables idempotency.
	SaveGrant(ctx context.Context, g Grant, idempotencyKey string) error

	// Exists checks whether an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// LoadGrants returns every grant in insertion order.
	LoadGrants(ctx context.Context) ([]Grant, error)

	// RecordSpend applies a spend's grant deductions and stores the spend.
	RecordSpend(ctx context.Context, rec SpendRecord) error

	// ListSpends returns recorded spends, newest first. limit <= 0 means all.
	ListSpends(ctx context.Context, limit int) ([]SpendRecord, error)

	// Reset removes all grants and spends.
	Reset(ctx context.Context) error
}
