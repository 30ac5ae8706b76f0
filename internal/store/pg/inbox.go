package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thanhpd/warelay/internal/store"
)

// InboxStore records accepted inbound messages for the producers.
type InboxStore struct {
	db *sql.DB
}

func NewInboxStore(db *sql.DB) *InboxStore {
	return &InboxStore{db: db}
}

func (s *InboxStore) SaveInbound(ctx context.Context, rec store.InboundRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox (sender, sender_code, body, received_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.Sender, rec.SenderCode, rec.Body, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	return nil
}

// SenderRegistry resolves inbound numbers against the producers' sender
// table, trying both the international and local spelling.
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
		  WHERE active AND (number = $1 OR number = $2)
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
