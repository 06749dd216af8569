package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Version is written to
// PRAGMA user_version after the step commits.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations defines the conversation schema.
// Foreign keys cascade as a second line behind the application-level deletes.
var migrations = []migration{
	{
		version:     1,
		description: "create_chats_table",
		sql: `
CREATE TABLE IF NOT EXISTS chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, created_at);
`,
	},
	{
		version:     2,
		description: "create_chat_messages_table",
		sql: `
CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    seq INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (chat_id)
        REFERENCES chats(id)
        ON DELETE CASCADE
);

-- Position index: truncation and ordered reads both walk (timestamp, seq)
CREATE INDEX IF NOT EXISTS idx_chat_messages_position ON chat_messages(chat_id, timestamp, seq);
`,
	},
	{
		version:     3,
		description: "create_file_attachments_table",
		sql: `
CREATE TABLE IF NOT EXISTS file_attachments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_message_id INTEGER NOT NULL,
    file_name TEXT NOT NULL,
    file_type TEXT NOT NULL,
    data TEXT NOT NULL,
    FOREIGN KEY (chat_message_id)
        REFERENCES chat_messages(id)
        ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_file_attachments_message ON file_attachments(chat_message_id);
`,
	},
}

// schemaVersion is the version a fully migrated database reports.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate applies every migration newer than the database's user_version.
func migrate(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		applied++
	}
	return applied, nil
}
