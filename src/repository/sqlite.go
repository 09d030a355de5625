package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

const intentColumns = `id, merchant_id, amount_minor, currency, description, status, provider,
	provider_ref, idempotency_key, provider_preference, routing_decision_id, routing_reason_code,
	root_payment_intent_id, attempt_number, failure_reason, created_at, updated_at, version`

func NewSQLitePaymentRepository(db *sql.DB) IntentStore {
	return &sqlitePaymentRepository{db: db}
}

type sqlitePaymentRepository struct {
	db *sql.DB
}

func (r *sqlitePaymentRepository) Create(ctx context.Context, p domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.MerchantID,
		p.AmountMinor,
		p.Currency,
		p.Description,
		string(p.Status),
		string(p.Provider),
		p.ProviderRef,
		p.IdempotencyKey,
		p.ProviderPreference,
		p.RoutingDecisionID,
		p.RoutingReasonCode,
		p.RootID(),
		p.AttemptNumber,
		p.FailureReason,
		p.CreatedAt.UnixNano(),
		p.UpdatedAt.UnixNano(),
		p.Version,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		if strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrDuplicateIdempotencyKey
		}
		return domain.ErrVersionConflict
	}
	return err
}

func (r *sqlitePaymentRepository) Get(ctx context.Context, id string) (domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = ?`, id)
	return scanIntent(row)
}

func (r *sqlitePaymentRepository) CompareAndSwap(ctx context.Context, p domain.PaymentIntent, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents
		 SET status = ?, provider_ref = ?, failure_reason = ?, updated_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		string(p.Status),
		p.ProviderRef,
		p.FailureReason,
		p.UpdatedAt.UnixNano(),
		p.Version,
		p.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := r.Get(ctx, p.ID); err != nil {
		return err
	}
	return domain.ErrVersionConflict
}

func (r *sqlitePaymentRepository) List(ctx context.Context, merchantID string, filter domain.IntentFilter) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE merchant_id = ?`
	args := []any{merchantID}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.To.UnixNano())
	}
	query += ` ORDER BY created_at, id`
	return r.query(ctx, query, args...)
}

func (r *sqlitePaymentRepository) Chain(ctx context.Context, rootID string) ([]domain.PaymentIntent, error) {
	return r.query(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE root_payment_intent_id = ? ORDER BY attempt_number`, rootID)
}

func (r *sqlitePaymentRepository) FindByProviderRef(ctx context.Context, provider domain.Provider, ref string) (domain.PaymentIntent, error) {
	if ref == "" {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE provider = ? AND provider_ref = ? LIMIT 1`,
		string(provider), ref)
	return scanIntent(row)
}

func (r *sqlitePaymentRepository) FindByIdempotencyKey(ctx context.Context, merchantID, key string) (domain.PaymentIntent, error) {
	if key == "" {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE merchant_id = ? AND idempotency_key = ?`,
		merchantID, key)
	return scanIntent(row)
}

func (r *sqlitePaymentRepository) query(ctx context.Context, query string, args ...any) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(row scanner) (domain.PaymentIntent, error) {
	var (
		p                    domain.PaymentIntent
		status, provider     string
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&p.ID,
		&p.MerchantID,
		&p.AmountMinor,
		&p.Currency,
		&p.Description,
		&status,
		&provider,
		&p.ProviderRef,
		&p.IdempotencyKey,
		&p.ProviderPreference,
		&p.RoutingDecisionID,
		&p.RoutingReasonCode,
		&p.RootPaymentIntentID,
		&p.AttemptNumber,
		&p.FailureReason,
		&createdAt,
		&updatedAt,
		&p.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentIntent{}, domain.ErrIntentNotFound
		}
		return domain.PaymentIntent{}, err
	}
	p.Status = domain.Status(status)
	p.Provider = domain.Provider(provider)
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return p, nil
}

func NewSQLiteDecisionLog(db *sql.DB) DecisionLog {
	return &sqliteDecisionLog{db: db}
}

type sqliteDecisionLog struct {
	db *sql.DB
}

func (l *sqliteDecisionLog) Append(ctx context.Context, d domain.RoutingDecision) error {
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO routing_decisions (id, intent_id, merchant_id, chosen_provider, reason_code, candidates, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.IntentID, d.MerchantID, string(d.ChosenProvider), d.ReasonCode, string(candidates), d.Timestamp.UnixNano(),
	)
	return err
}

func (l *sqliteDecisionLog) Get(ctx context.Context, id string) (domain.RoutingDecision, error) {
	rows, err := l.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	if len(rows) == 0 {
		return domain.RoutingDecision{}, ErrDecisionNotFound
	}
	return rows[0], nil
}

func (l *sqliteDecisionLog) ForIntent(ctx context.Context, intentID string) ([]domain.RoutingDecision, error) {
	return l.query(ctx, `WHERE intent_id = ? ORDER BY created_at`, intentID)
}

func (l *sqliteDecisionLog) Search(ctx context.Context, filter domain.DecisionFilter) ([]domain.RoutingDecision, error) {
	where := `WHERE 1 = 1`
	var args []any
	if !filter.From.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		where += ` AND created_at <= ?`
		args = append(args, filter.To.UnixNano())
	}
	if filter.Provider != "" {
		where += ` AND chosen_provider = ?`
		args = append(args, string(filter.Provider))
	}
	return l.query(ctx, where+` ORDER BY created_at, rowid`, args...)
}

func (l *sqliteDecisionLog) query(ctx context.Context, where string, args ...any) ([]domain.RoutingDecision, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, intent_id, merchant_id, chosen_provider, reason_code, candidates, created_at
		 FROM routing_decisions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoutingDecision
	for rows.Next() {
		var (
			d                    domain.RoutingDecision
			provider, candidates string
			ts                   int64
		)
		if err := rows.Scan(&d.ID, &d.IntentID, &d.MerchantID, &provider, &d.ReasonCode, &candidates, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(candidates), &d.Candidates); err != nil {
			return nil, fmt.Errorf("decode candidates for %s: %w", d.ID, err)
		}
		d.ChosenProvider = domain.Provider(provider)
		d.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func NewSQLiteCheckoutConfigStore(db *sql.DB) CheckoutConfigStore {
	return &sqliteCheckoutConfigStore{db: db}
}

type sqliteCheckoutConfigStore struct {
	db *sql.DB
}

func (s *sqliteCheckoutConfigStore) Save(ctx context.Context, intentID string, cfg domain.CheckoutConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkout_configs (intent_id, config) VALUES (?, ?)
		 ON CONFLICT (intent_id) DO UPDATE SET config = excluded.config`,
		intentID, string(data))
	return err
}

func (s *sqliteCheckoutConfigStore) Get(ctx context.Context, intentID string) (domain.CheckoutConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM checkout_configs WHERE intent_id = ?`, intentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg domain.CheckoutConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func NewSQLiteProviderConfigStore(db *sql.DB) ProviderConfigStore {
	return &sqliteProviderConfigStore{db: db}
}

type sqliteProviderConfigStore struct {
	db *sql.DB
}

func (s *sqliteProviderConfigStore) Get(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderConfig, bool, error) {
	cfgs, err := s.query(ctx, `WHERE merchant_id = ? AND provider = ?`, merchantID, string(provider))
	if err != nil || len(cfgs) == 0 {
		return domain.ProviderConfig{}, false, err
	}
	return cfgs[0], true, nil
}

func (s *sqliteProviderConfigStore) Upsert(ctx context.Context, cfg domain.ProviderConfig) error {
	data, err := json.Marshal(cfg.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_configs (merchant_id, provider, enabled, config) VALUES (?, ?, ?, ?)
		 ON CONFLICT (merchant_id, provider) DO UPDATE SET enabled = excluded.enabled, config = excluded.config`,
		cfg.MerchantID, string(cfg.Provider), cfg.Enabled, string(data))
	return err
}

func (s *sqliteProviderConfigStore) List(ctx context.Context, merchantID string) ([]domain.ProviderConfig, error) {
	return s.query(ctx, `WHERE merchant_id = ? ORDER BY provider`, merchantID)
}

func (s *sqliteProviderConfigStore) Purge(ctx context.Context, merchantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_configs WHERE merchant_id = ?`, merchantID)
	return err
}

func (s *sqliteProviderConfigStore) query(ctx context.Context, where string, args ...any) ([]domain.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT merchant_id, provider, enabled, config FROM provider_configs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderConfig
	for rows.Next() {
		var (
			cfg            domain.ProviderConfig
			provider, data string
		)
		if err := rows.Scan(&cfg.MerchantID, &provider, &cfg.Enabled, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &cfg.Config); err != nil {
			return nil, err
		}
		cfg.Provider = domain.Provider(provider)
		out = append(out, cfg)
	}
	return out, rows.Err()
}
