package store

import (
	"context"

	"github.com/inboxzen/mailtriage/internal/model"
)

// Store defines the persistence interface for accounts and the
// processed-message ledger.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, account model.Account) error
	GetAccount(ctx context.Context, address string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	// ListConnectedAccounts returns accounts eligible for a triage run,
	// skipping those flagged disconnected.
	ListConnectedAccounts(ctx context.Context) ([]model.Account, error)
	// DeleteAccount removes the account and, through the foreign key
	// cascade, all of its processed records.
	DeleteAccount(ctx context.Context, address string) error

	// MarkDisconnected flags the account so the scheduler stops running
	// it, recording a human-readable reason.
	MarkDisconnected(ctx context.Context, address, reason string) error
	// MarkConnected clears the disconnected flag and the stored reason.
	MarkConnected(ctx context.Context, address string) error

	// === Processed messages ===

	// InsertProcessed records one triaged thread. Inserting an already
	// recorded (account, thread id) pair is a no-op, so concurrent or
	// repeated runs stay idempotent.
	InsertProcessed(ctx context.Context, rec model.ProcessedRecord) error
	// FilterUnprocessed returns the subset of threadIDs without a
	// processed record for the account, in input order.
	FilterUnprocessed(ctx context.Context, account string, threadIDs []string) ([]string, error)

	Close() error
}
