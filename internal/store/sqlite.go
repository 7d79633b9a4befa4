package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/inboxzen/mailtriage/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so account deletion cascades.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertAccount inserts or replaces the account row.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account model.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO accounts (
			address, provider, disconnected, last_error,
			credential, imap_host, imap_port, imap_login, created_at
		) VALUES (
			:address, :provider, :disconnected, :last_error,
			:credential, :imap_host, :imap_port, :imap_login, :created_at
		)
		ON CONFLICT(address) DO UPDATE SET
			provider = excluded.provider,
			disconnected = excluded.disconnected,
			last_error = excluded.last_error,
			credential = excluded.credential,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_login = excluded.imap_login`

	if _, err := s.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("upserting account %s: %w", account.Address, err)
	}
	return nil
}

// GetAccount returns the account with the given address, or nil when it
// does not exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var account model.Account
	err := s.db.GetContext(ctx, &account,
		"SELECT * FROM accounts WHERE address = ?", address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", address, err)
	}
	return &account, nil
}

// ListAccounts returns every account, oldest first.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts ORDER BY created_at, address")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// ListConnectedAccounts returns the accounts not flagged disconnected.
func (s *SQLiteStore) ListConnectedAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts WHERE disconnected = 0 ORDER BY created_at, address")
	if err != nil {
		return nil, fmt.Errorf("listing connected accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes the account; its processed records go with it via
// the foreign key cascade.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM accounts WHERE address = ?", address); err != nil {
		return fmt.Errorf("deleting account %s: %w", address, err)
	}
	return nil
}

// MarkDisconnected flags the account and records the reason.
func (s *SQLiteStore) MarkDisconnected(ctx context.Context, address, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET disconnected = 1, last_error = ? WHERE address = ?",
		reason, address); err != nil {
		return fmt.Errorf("marking %s disconnected: %w", address, err)
	}
	return nil
}

// MarkConnected clears the disconnected flag and the stored reason.
func (s *SQLiteStore) MarkConnected(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET disconnected = 0, last_error = '' WHERE address = ?",
		address); err != nil {
		return fmt.Errorf("marking %s connected: %w", address, err)
	}
	return nil
}

// InsertProcessed records one triaged thread. A duplicate (account,
// thread id) insert is silently ignored.
func (s *SQLiteStore) InsertProcessed(ctx context.Context, rec model.ProcessedRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO processed_messages (account, sender, thread_id, classified, created_at)
		VALUES (:account, :sender, :thread_id, :classified, :created_at)
		ON CONFLICT(account, thread_id) DO NOTHING`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("inserting processed record for %s: %w", rec.ThreadID, err)
	}
	return nil
}

// FilterUnprocessed returns the thread ids without a processed record,
// preserving input order.
func (s *SQLiteStore) FilterUnprocessed(ctx context.Context, account string, threadIDs []string) ([]string, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT thread_id FROM processed_messages WHERE account = ? AND thread_id IN (?)",
		account, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("building processed query: %w", err)
	}

	var seen []string
	if err := s.db.SelectContext(ctx, &seen, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying processed records: %w", err)
	}

	processed := make(map[string]struct{}, len(seen))
	for _, tid := range seen {
		processed[tid] = struct{}{}
	}

	var unprocessed []string
	for _, tid := range threadIDs {
		if _, ok := processed[tid]; !ok {
			unprocessed = append(unprocessed, tid)
		}
	}
	return unprocessed, nil
}
