package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	address      TEXT PRIMARY KEY,
	provider     TEXT NOT NULL DEFAULT 'imap',
	disconnected INTEGER NOT NULL DEFAULT 0 CHECK(disconnected IN (0, 1)),
	last_error   TEXT NOT NULL DEFAULT '',
	credential   TEXT NOT NULL DEFAULT '',
	imap_host    TEXT NOT NULL DEFAULT '',
	imap_port    TEXT NOT NULL DEFAULT '',
	imap_login   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account    TEXT NOT NULL REFERENCES accounts(address) ON DELETE CASCADE,
	sender     TEXT NOT NULL DEFAULT '',
	thread_id  TEXT NOT NULL,
	classified INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account, thread_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_account ON processed_messages(account);
CREATE INDEX IF NOT EXISTS idx_accounts_disconnected ON accounts(disconnected);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
