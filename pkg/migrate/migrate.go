// Package migrate applies the schema fixes GORM's AutoMigrate cannot
// express: adding columns to a table that predates them, and rebuilding a
// column whose stored type changed. Both follow the pragma_table_info +
// ALTER TABLE idiom in original_source/src-tauri/src/db/schema.rs's
// migrate_add_imap_columns and migrate_date_column_if_needed, translated
// from rusqlite calls onto a database/sql handle.
package migrate

import (
	"database/sql"
	"fmt"
	"log"
)

// HasColumn reports whether table already carries column, via the same
// pragma_table_info lookup schema.rs runs before every ALTER TABLE ADD
// COLUMN. A table that does not exist yet reports false with no error,
// since a column-add migration on a fresh install is a no-op.
func HasColumn(db *sql.DB, table, column string) (bool, error) {
	exists, err := tableExists(db, table)
	if err != nil || !exists {
		return false, err
	}
	var count int
	query := fmt.Sprintf("SELECT count(*) FROM pragma_table_info('%s') WHERE name = ?", table)
	if err := db.QueryRow(query, column).Scan(&count); err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking table %s exists: %w", table, err)
	}
	return count > 0, nil
}

// AddColumnIfMissing adds column to table with the given type-and-default
// DDL fragment when it is not already present, the Go counterpart to
// migrate_add_imap_columns. A no-op on a table that does not exist yet,
// since AutoMigrate will create the table (with the column) itself.
func AddColumnIfMissing(db *sql.DB, table, column, ddl string) error {
	has, err := HasColumn(db, table, column)
	if err != nil || has {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl)
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	log.Printf("migrate: added column %s.%s to legacy database", table, column)
	return nil
}

// columnType returns the declared SQLite type of table.column, upper-cased,
// or "" if the table or column does not exist.
func columnType(db *sql.DB, table, column string) (string, error) {
	exists, err := tableExists(db, table)
	if err != nil || !exists {
		return "", err
	}
	var colType string
	query := fmt.Sprintf("SELECT type FROM pragma_table_info('%s') WHERE name = ?", table)
	switch err := db.QueryRow(query, column).Scan(&colType); err {
	case nil:
		return colType, nil
	case sql.ErrNoRows:
		return "", nil
	default:
		return "", fmt.Errorf("reading type of %s.%s: %w", table, column, err)
	}
}

// legacyMessagesColumns is the column set of the messages table as it
// existed before this rescue was introduced, in original_source's own
// "emails" table shape adapted to metadatadb.Message's field names.
const legacyMessagesColumns = `
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL DEFAULT 'legacy',
	folder TEXT NOT NULL DEFAULT 'INBOX',
	uid INTEGER NOT NULL DEFAULT 0,
	thread_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	from_name TEXT NOT NULL,
	from_email TEXT NOT NULL,
	to_emails TEXT NOT NULL,
	date INTEGER NOT NULL,
	snippet TEXT NOT NULL,
	body_html TEXT,
	body_plain TEXT,
	is_read INTEGER NOT NULL DEFAULT 0,
	is_starred INTEGER NOT NULL DEFAULT 0,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	labels TEXT,
	message_id_header TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
`

// RescueMessagesDateColumn rebuilds the messages table when its date column
// was stored as TEXT by a database that predates storing dates as
// unix-epoch INTEGER — the Go counterpart to migrate_date_column_if_needed.
// SQLite cannot ALTER COLUMN a type in place and AutoMigrate never attempts
// a destructive rebuild, so this is hand-written the way the original does
// it: build a shadow table with the corrected type, copy every row through
// a CASE that accepts an existing integer, a numeric string, or an RFC3339
// string, then swap the table in under one transaction.
func RescueMessagesDateColumn(db *sql.DB) error {
	colType, err := columnType(db, "messages", "date")
	if err != nil {
		return err
	}
	if colType == "" || colType != "TEXT" {
		return nil
	}

	log.Print("migrate: converting messages.date from TEXT to INTEGER")

	// The copy below reads the multi-account columns, so a TEXT-dated table
	// that predates them gets them first.
	if err := AddMultiAccountColumns(db); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning date rescue transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("CREATE TABLE messages_new (" + legacyMessagesColumns + ")"); err != nil {
		return fmt.Errorf("creating messages_new: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages_new
		SELECT id, account_id, folder, uid, thread_id, subject, from_name, from_email, to_emails,
			CASE
				WHEN typeof(date) = 'integer' THEN date
				WHEN date NOT GLOB '*[^0-9]*' THEN CAST(date AS INTEGER)
				ELSE strftime('%s', date)
			END,
			snippet, body_html, body_plain, is_read, is_starred, has_attachments, labels,
			message_id_header, created_at, updated_at
		FROM messages WHERE date IS NOT NULL`); err != nil {
		return fmt.Errorf("copying messages into messages_new: %w", err)
	}

	if _, err := tx.Exec("DROP TABLE messages"); err != nil {
		return fmt.Errorf("dropping old messages table: %w", err)
	}
	if _, err := tx.Exec("ALTER TABLE messages_new RENAME TO messages"); err != nil {
		return fmt.Errorf("renaming messages_new to messages: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date DESC)"); err != nil {
		return fmt.Errorf("recreating date index: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id)"); err != nil {
		return fmt.Errorf("recreating thread index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing date rescue: %w", err)
	}
	log.Print("migrate: messages.date rescue complete")
	return nil
}

// legacyColumn is one column migrate_add_imap_columns back-fills onto a
// messages table that predates multi-account support.
type legacyColumn struct {
	name, ddl string
}

var legacyMultiAccountColumns = []legacyColumn{
	{"account_id", "TEXT NOT NULL DEFAULT 'legacy'"},
	{"uid", "INTEGER NOT NULL DEFAULT 0"},
	{"folder", "TEXT NOT NULL DEFAULT 'INBOX'"},
	{"message_id_header", "TEXT NOT NULL DEFAULT ''"},
}

// AddMultiAccountColumns back-fills account_id, uid, folder, and
// message_id_header onto a messages table saved before multi-account
// support existed, the Go counterpart to migrate_add_imap_columns. A
// database created by the current schema already has every column via
// AutoMigrate, so each check is a no-op there.
func AddMultiAccountColumns(db *sql.DB) error {
	for _, col := range legacyMultiAccountColumns {
		if err := AddColumnIfMissing(db, "messages", col.name, col.ddl); err != nil {
			return err
		}
	}
	return nil
}

// Run applies every legacy-database rescue, in the order schema.rs runs
// them: the date-column rebuild first (it recreates the whole table), then
// any missing multi-account columns.
func Run(db *sql.DB) error {
	if err := RescueMessagesDateColumn(db); err != nil {
		return fmt.Errorf("rescuing date column: %w", err)
	}
	if err := AddMultiAccountColumns(db); err != nil {
		return fmt.Errorf("adding multi-account columns: %w", err)
	}
	return nil
}
