package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of cache schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id        TEXT PRIMARY KEY,
	date      TEXT NOT NULL,
	from_addr TEXT NOT NULL DEFAULT '',
	subject   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attachments (
	email_id  TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	id        TEXT NOT NULL,
	filename  TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (email_id, position)
);

CREATE TABLE IF NOT EXISTS files (
	email_id      TEXT NOT NULL,
	attachment_id TEXT NOT NULL,
	path          TEXT NOT NULL,
	PRIMARY KEY (email_id, attachment_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// schemaVersion is the newest schema this build understands.
var schemaVersion = migrations[len(migrations)-1].version
