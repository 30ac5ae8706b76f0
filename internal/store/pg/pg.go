// Package pg implements the stores on PostgreSQL via database/sql with the
// pgx driver.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/thanhpd/warelay/internal/store"
)

// OpenDB opens and verifies a Postgres connection.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(dsn string, codes store.StatusCodes) (*store.Stores, error) {
	db, err := OpenDB(dsn)
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
