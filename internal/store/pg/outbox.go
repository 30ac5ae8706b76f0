package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thanhpd/warelay/internal/store"
)

// OutboxStore reads and settles pending rows in the producers' outbox table.
type OutboxStore struct {
	db    *sql.DB
	codes store.StatusCodes
}

func NewOutboxStore(db *sql.DB, codes store.StatusCodes) *OutboxStore {
	return &OutboxStore{db: db, codes: codes}
}

// FetchPending returns up to limit pending rows, oldest entry first so
// producers are drained fairly.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]store.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, recipient, body, entered_at, status_at
		   FROM outbox
		  WHERE status = $1
		  ORDER BY entered_at ASC
		  LIMIT $2`,
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

// MarkSent settles a row as sent, echoing the sending account the way the
// legacy schema expects.
func (s *OutboxStore) MarkSent(ctx context.Context, key int64, senderEcho string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = $1, status_at = $2, sender = $3 WHERE key = $4`,
		s.codes.Sent, time.Now(), senderEcho, key,
	)
	if err != nil {
		return fmt.Errorf("mark outbox row %d sent: %w", key, err)
	}
	return nil
}

// MarkFailed settles a row as permanently failed so producers can react.
func (s *OutboxStore) MarkFailed(ctx context.Context, key int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = $1, status_at = $2 WHERE key = $3`,
		s.codes.Failed, time.Now(), key,
	)
	if err != nil {
		return fmt.Errorf("mark outbox row %d failed: %w", key, err)
	}
	return nil
}
