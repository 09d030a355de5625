package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// EventLog is the append-only audit trail of provider interactions.
type EventLog interface {
	Append(ctx context.Context, e domain.PaymentEvent) error
	ForIntent(ctx context.Context, intentID string) ([]domain.PaymentEvent, error)
}

func NewEventLog() EventLog {
	return &eventLog{byIntent: make(map[string][]domain.PaymentEvent)}
}

type eventLog struct {
	mu       sync.RWMutex
	byIntent map[string][]domain.PaymentEvent
}

func (l *eventLog) Append(_ context.Context, e domain.PaymentEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byIntent[e.IntentID] = append(l.byIntent[e.IntentID], e)
	return nil
}

func (l *eventLog) ForIntent(_ context.Context, intentID string) ([]domain.PaymentEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.PaymentEvent(nil), l.byIntent[intentID]...), nil
}

func NewSQLiteEventLog(db *sql.DB) EventLog {
	return &sqliteEventLog{db: db}
}

type sqliteEventLog struct {
	db *sql.DB
}

func (l *sqliteEventLog) Append(ctx context.Context, e domain.PaymentEvent) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO payment_events (id, payment_intent_id, provider, event_type, payload_hash, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IntentID, string(e.Provider), e.Type, e.PayloadHash, e.Payload, e.CreatedAt.UnixNano(),
	)
	return err
}

func (l *sqliteEventLog) ForIntent(ctx context.Context, intentID string) ([]domain.PaymentEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, payment_intent_id, provider, event_type, payload_hash, payload, created_at
		 FROM payment_events WHERE payment_intent_id = ? ORDER BY created_at, rowid`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentEvent
	for rows.Next() {
		var (
			e        domain.PaymentEvent
			provider string
			ts       int64
		)
		if err := rows.Scan(&e.ID, &e.IntentID, &provider, &e.Type, &e.PayloadHash, &e.Payload, &ts); err != nil {
			return nil, err
		}
		e.Provider = domain.Provider(provider)
		e.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
