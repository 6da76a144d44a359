package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		room_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		file_name TEXT,
		file_path TEXT,
		file_size INTEGER,
		mime_type TEXT,
		reply_to INTEGER,
		edited INTEGER NOT NULL DEFAULT 0,
		edited_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (room_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		room_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (room_id, seq, user_id, emoji),
		FOREIGN KEY (room_id, seq) REFERENCES messages(room_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		is_active INTEGER NOT NULL DEFAULT 1,
		joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// OpenSQLite opens the database file at path and creates the chat tables.
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	for _, query := range sqliteSchema {
		if _, err := conn.Exec(query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate sqlite schema: %w", err)
		}
	}

	return conn, nil
}
