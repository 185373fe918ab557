package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/attachsync/internal/model"
)

const (
	sqliteFile  = "cache.db"
	lastSyncKey = "last_sync"
)

// SQLitePersister stores the cache in a SQLite database.
type SQLitePersister struct {
	path string
}

var _ Persister = (*SQLitePersister)(nil)

// NewSQLitePersister returns a persister for <dir>/cache.db.
func NewSQLitePersister(dir string) *SQLitePersister {
	return &SQLitePersister{path: filepath.Join(dir, sqliteFile)}
}

// Path returns the database file path.
func (p *SQLitePersister) Path() string {
	return p.path
}

type emailRow struct {
	ID      string `db:"id"`
	Date    string `db:"date"`
	From    string `db:"from_addr"`
	Subject string `db:"subject"`
}

type attachmentRow struct {
	EmailID  string `db:"email_id"`
	Position int    `db:"position"`
	ID       string `db:"id"`
	Filename string `db:"filename"`
	MIMEType string `db:"mime_type"`
}

type fileRow struct {
	EmailID      string `db:"email_id"`
	AttachmentID string `db:"attachment_id"`
	Path         string `db:"path"`
}

// openDB opens the database, enables WAL mode and foreign keys, and
// brings the schema up to date. A file that is not a usable cache
// database yields ErrCorrupt.
func openDB(ctx context.Context, path string) (*sqlx.DB, int, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("%w: enabling WAL mode: %v", ErrCorrupt, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("enabling foreign keys: %w", err)
	}

	version, err := runMigrations(ctx, db)
	if err != nil {
		db.Close()
		return nil, 0, err
	}

	return db, version, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func runMigrations(ctx context.Context, db *sqlx.DB) (int, error) {
	currentVersion := 0

	var tableCount int
	err := db.GetContext(ctx,
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return 0, fmt.Errorf("%w: checking schema_version table: %v", ErrCorrupt, err)
	}

	if tableCount > 0 {
		err = db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return 0, fmt.Errorf("%w: reading schema version: %v", ErrCorrupt, err)
		}
	}

	if currentVersion > schemaVersion {
		return 0, fmt.Errorf(
			"%w: schema version %d is newer than supported %d",
			ErrCorrupt, currentVersion, schemaVersion,
		)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return 0, fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		currentVersion = m.version
	}

	return currentVersion, nil
}

// Load implements Persister.
func (p *SQLitePersister) Load(ctx context.Context) (Record, error) {
	if _, err := os.Stat(p.path); errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotExist
	}

	db, version, err := openDB(ctx, p.path)
	if err != nil {
		return Record{}, err
	}
	defer db.Close()

	rec := NewRecord()
	rec.Version = version

	var lastSync []string
	if err := db.SelectContext(ctx, &lastSync,
		"SELECT value FROM sync_state WHERE key = ?", lastSyncKey,
	); err != nil {
		return Record{}, readErr(ctx, "last sync", err)
	}
	if len(lastSync) > 0 {
		t, err := time.Parse(time.RFC3339Nano, lastSync[0])
		if err != nil {
			return Record{}, fmt.Errorf("%w: last sync %q: %v", ErrCorrupt, lastSync[0], err)
		}
		rec.LastSync = &t
	}

	var emails []emailRow
	if err := db.SelectContext(ctx, &emails,
		"SELECT id, date, from_addr, subject FROM emails",
	); err != nil {
		return Record{}, readErr(ctx, "emails", err)
	}
	for _, row := range emails {
		date, err := time.Parse(time.RFC3339Nano, row.Date)
		if err != nil {
			return Record{}, fmt.Errorf("%w: date of email %s: %v", ErrCorrupt, row.ID, err)
		}
		rec.Emails[model.EmailID(row.ID)] = model.Email{
			ID:      model.EmailID(row.ID),
			Date:    date,
			From:    row.From,
			Subject: row.Subject,
		}
	}

	var attachments []attachmentRow
	if err := db.SelectContext(ctx, &attachments,
		"SELECT email_id, position, id, filename, mime_type FROM attachments ORDER BY email_id, position",
	); err != nil {
		return Record{}, readErr(ctx, "attachments", err)
	}
	for _, row := range attachments {
		e, ok := rec.Emails[model.EmailID(row.EmailID)]
		if !ok {
			continue
		}
		e.Attachments = append(e.Attachments, model.AttachmentMeta{
			ID:       row.ID,
			Filename: row.Filename,
			MIMEType: row.MIMEType,
		})
		rec.Emails[e.ID] = e
	}

	var files []fileRow
	if err := db.SelectContext(ctx, &files,
		"SELECT email_id, attachment_id, path FROM files",
	); err != nil {
		return Record{}, readErr(ctx, "files", err)
	}
	for _, row := range files {
		rec.Files[FileKey(model.EmailID(row.EmailID), row.AttachmentID)] = row.Path
	}

	return rec, nil
}

// readErr wraps a failed read. Outside of cancellation a query fails
// only when the tables do not have the expected layout, which makes the
// database corrupt.
func readErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("reading %s: %w", what, err)
	}
	return fmt.Errorf("%w: reading %s: %v", ErrCorrupt, what, err)
}

// Save implements Persister. The stored snapshot is replaced in a single
// transaction; an unreadable database file is recreated.
func (p *SQLitePersister) Save(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	db, _, err := openDB(ctx, p.path)
	if errors.Is(err, ErrCorrupt) {
		if rmErr := p.remove(); rmErr != nil {
			return rmErr
		}
		db, _, err = openDB(ctx, p.path)
	}
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"files", "attachments", "emails", "sync_state"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if rec.LastSync != nil {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sync_state (key, value) VALUES (?, ?)",
			lastSyncKey, rec.LastSync.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("writing last sync: %w", err)
		}
	}

	emailStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO emails (id, date, from_addr, subject) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing email statement: %w", err)
	}
	defer emailStmt.Close()

	attStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO attachments (email_id, position, id, filename, mime_type) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing attachment statement: %w", err)
	}
	defer attStmt.Close()

	for _, e := range rec.Emails {
		if _, err := emailStmt.ExecContext(ctx,
			string(e.ID), e.Date.UTC().Format(time.RFC3339Nano), e.From, e.Subject,
		); err != nil {
			return fmt.Errorf("writing email %s: %w", e.ID, err)
		}
		for i, a := range e.Attachments {
			if _, err := attStmt.ExecContext(ctx,
				string(e.ID), i+1, a.ID, a.Filename, a.MIMEType,
			); err != nil {
				return fmt.Errorf("writing attachment %s of email %s: %w", a.ID, e.ID, err)
			}
		}
	}

	fileStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO files (email_id, attachment_id, path) VALUES (?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing file statement: %w", err)
	}
	defer fileStmt.Close()

	for key, path := range rec.Files {
		emailID, attachmentID := SplitFileKey(key)
		if _, err := fileStmt.ExecContext(ctx, string(emailID), attachmentID, path); err != nil {
			return fmt.Errorf("writing file %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}

	return nil
}

// remove deletes the database and its WAL side files.
func (p *SQLitePersister) remove() error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Remove(p.path + suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing corrupt cache %s: %w", p.path+suffix, err)
		}
	}
	return nil
}
