package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexsandroveiga/pasarela/src/configuration/storage"
)

// Fingerprint is the part of a creation request a replay must match.
type Fingerprint struct {
	AmountMinor        int64  `json:"amountMinor"`
	Currency           string `json:"currency"`
	Description        string `json:"description"`
	ProviderPreference string `json:"providerPreference"`
}

// Diff names the first field that differs, or "" when they match.
func (f Fingerprint) Diff(other Fingerprint) string {
	switch {
	case f.AmountMinor != other.AmountMinor:
		return "amountMinor"
	case f.Currency != other.Currency:
		return "currency"
	case f.Description != other.Description:
		return "description"
	case f.ProviderPreference != other.ProviderPreference:
		return "providerPreference"
	}
	return ""
}

type Record struct {
	IntentID    string      `json:"intentId"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type Store interface {
	Get(ctx context.Context, merchantID, key string) (Record, bool, error)
	// Save stores rec unless a live record already exists; it reports whether it wrote.
	Save(ctx context.Context, merchantID, key string, rec Record, ttl time.Duration) (bool, error)
}

func recordKey(merchantID, key string) string {
	return "idempotency:" + merchantID + ":" + key
}

func NewInMemoryStore(s *storage.InMemoryStorage) Store {
	return &inMemoryStore{s}
}

type inMemoryStore struct {
	storage *storage.InMemoryStorage
}

func (s *inMemoryStore) Get(_ context.Context, merchantID, key string) (Record, bool, error) {
	raw, ok := s.storage.Get(recordKey(merchantID, key))
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *inMemoryStore) Save(_ context.Context, merchantID, key string, rec Record, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.storage.SetNX(recordKey(merchantID, key), raw, ttl), nil
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client}
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Get(ctx context.Context, merchantID, key string) (Record, bool, error) {
	val, err := s.client.Get(ctx, recordKey(merchantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *redisStore) Save(ctx context.Context, merchantID, key string, rec Record, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, recordKey(merchantID, key), data, ttl).Result()
}
