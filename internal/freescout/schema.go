package freescout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// sqliteSchema is the subset of the FreeScout schema this package touches.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS mailboxes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mailbox_id INTEGER NOT NULL,
		type INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT,
		last_name TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number INTEGER NOT NULL,
		threads_count INTEGER NOT NULL DEFAULT 0,
		type INTEGER NOT NULL,
		folder_id INTEGER NOT NULL,
		status INTEGER NOT NULL,
		state INTEGER NOT NULL,
		subject TEXT,
		customer_email TEXT,
		preview TEXT NOT NULL DEFAULT '',
		mailbox_id INTEGER NOT NULL,
		customer_id INTEGER,
		source_via INTEGER NOT NULL,
		source_type INTEGER NOT NULL,
		last_reply_at DATETIME,
		last_reply_from INTEGER,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		type INTEGER NOT NULL,
		status INTEGER NOT NULL,
		state INTEGER NOT NULL,
		body TEXT,
		"from" TEXT,
		customer_id INTEGER,
		source_via INTEGER NOT NULL,
		source_type INTEGER NOT NULL,
		first BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

// InitSchema creates the FreeScout tables this package uses and a default
// mailbox with an inbox folder. It only works on SQLite, for local demos and
// tests; a real FreeScout installation manages its own schema.
func (s *Store) InitSchema(ctx context.Context, mailboxName, mailboxEmail string) error {
	if s.dialect != "sqlite" {
		return fmt.Errorf("schema bootstrap is only supported for sqlite, not %s", s.dialect)
	}

	return s.withConn(ctx, func(conn *sql.Conn) error {
		for _, stmt := range sqliteSchema {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}

		var id int64
		err := conn.QueryRowContext(ctx, `SELECT id FROM mailboxes ORDER BY id LIMIT 1`).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query mailboxes: %w", err)
		}

		now := s.opts.Now()
		res, err := conn.ExecContext(ctx,
			`INSERT INTO mailboxes (name, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			mailboxName, mailboxEmail, now, now)
		if err != nil {
			return fmt.Errorf("seed mailbox: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("seed mailbox: %w", err)
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO folders (mailbox_id, type) VALUES (?, ?)`, id, folderTypeInbox); err != nil {
			return fmt.Errorf("seed inbox folder: %w", err)
		}
		return nil
	})
}
