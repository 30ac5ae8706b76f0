// Package sqlite implements the stores on a local SQLite database. Used in
// standalone mode and in tests; semantics match the Postgres implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thanhpd/warelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	key        INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient  TEXT NOT NULL,
	body       TEXT NOT NULL,
	entered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status     INTEGER NOT NULL DEFAULT 0,
	status_at  TIMESTAMP,
	sender     TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_status_entered ON outbox(status, entered_at);

CREATE TABLE IF NOT EXISTS inbox (
	key         INTEGER PRIMARY KEY AUTOINCREMENT,
	sender      TEXT NOT NULL,
	sender_code TEXT,
	body        TEXT NOT NULL,
	received_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS senders (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	number TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
`

// OpenDB opens the SQLite database at path and ensures the schema exists.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite is not safe for concurrent writers on one connection pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by the SQLite database at path.
func NewStores(path string, codes store.StatusCodes) (*store.Stores, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Outbox:  NewOutboxStore(db, codes),
		Inbox:   NewInboxStore(db),
		Senders: NewSenderRegistry(db),
		Close:   db.Close,
	}, nil
}

// OutboxStore reads and settles pending rows.
type OutboxStore struct {
	db    *sql.DB
	codes store.StatusCodes
}

func NewOutboxStore(db *sql.DB, codes store.StatusCodes) *OutboxStore {
	return &OutboxStore{db: db, codes: codes}
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]store.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, recipient, body, entered_at, status_at
		   FROM outbox
		  WHERE status = ?
		  ORDER BY entered_at ASC
		  LIMIT ?`,
		s.codes.Pending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox rows: %w", err)
	}
	defer rows.Close()

	var out []store.OutboxRow
	for rows.Next() {
		r := store.OutboxRow{Status: store.StatusPending}
		var statusAt sql.NullTime
		if err := rows.Scan(&r.Key, &r.Recipient, &r.Body, &r.EnteredAt, &statusAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if statusAt.Valid {
			r.StatusAt = statusAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, key int64, senderEcho string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, status_at = ?, sender = ? WHERE key = ?`,
		s.codes.Sent, time.Now(), senderEcho, key,
	)
	if err != nil {
		return fmt.Errorf("mark outbox row %d sent: %w", key, err)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, key int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, status_at = ? WHERE key = ?`,
		s.codes.Failed, time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("mark outbox row %d failed: %w", key, err)
	}
	return nil
}

// InboxStore records accepted inbound messages.
type InboxStore struct {
	db *sql.DB
}

func NewInboxStore(db *sql.DB) *InboxStore {
	return &InboxStore{db: db}
}

func (s *InboxStore) SaveInbound(ctx context.Context, rec store.InboundRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox (sender, sender_code, body, received_at) VALUES (?, ?, ?, ?)`,
		rec.Sender, rec.SenderCode, rec.Body, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	return nil
}

// SenderRegistry resolves inbound numbers against the senders table.
type SenderRegistry struct {
	db *sql.DB
}

func NewSenderRegistry(db *sql.DB) *SenderRegistry {
	return &SenderRegistry{db: db}
}

func (s *SenderRegistry) SenderByNumber(ctx context.Context, number string) (*store.RegisteredSender, error) {
	intl, local := store.NumberVariants(number)

	row := s.db.QueryRowContext(ctx,
		`SELECT code, name, number
		   FROM senders
		  WHERE active = 1 AND (number = ? OR number = ?)
		  LIMIT 1`,
		intl, local,
	)

	var sender store.RegisteredSender
	if err := row.Scan(&sender.Code, &sender.Name, &sender.Number); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup sender %s: %w", number, err)
	}
	return &sender, nil
}
