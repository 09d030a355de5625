package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// NewRedisProviderConfigStore shares merchant provider overrides across instances.
func NewRedisProviderConfigStore(client *redis.Client) *RedisProviderConfigStore {
	return &RedisProviderConfigStore{client}
}

type RedisProviderConfigStore struct {
	client *redis.Client
}

func providerConfigRedisKey(merchantID string, provider domain.Provider) string {
	return fmt.Sprintf("provider_config:%s:%s", merchantID, provider)
}

func (r *RedisProviderConfigStore) Get(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderConfig, bool, error) {
	val, err := r.client.Get(ctx, providerConfigRedisKey(merchantID, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ProviderConfig{}, false, nil
	}
	if err != nil {
		return domain.ProviderConfig{}, false, err
	}
	var cfg domain.ProviderConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return domain.ProviderConfig{}, false, err
	}
	return cfg, true, nil
}

func (r *RedisProviderConfigStore) Upsert(ctx context.Context, cfg domain.ProviderConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, providerConfigRedisKey(cfg.MerchantID, cfg.Provider), data, 0).Err()
}

func (r *RedisProviderConfigStore) List(ctx context.Context, merchantID string) ([]domain.ProviderConfig, error) {
	var out []domain.ProviderConfig
	iter := r.client.Scan(ctx, 0, fmt.Sprintf("provider_config:%s:*", merchantID), 0).Iterator()
	for iter.Next(ctx) {
		val, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var cfg domain.ProviderConfig
		if err := json.Unmarshal([]byte(val), &cfg); err != nil {
			continue
		}
		if cfg.MerchantID != merchantID {
			continue
		}
		out = append(out, cfg)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r *RedisProviderConfigStore) Purge(ctx context.Context, merchantID string) error {
	keys := make([]string, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		keys = append(keys, providerConfigRedisKey(merchantID, p))
	}
	return r.client.Del(ctx, keys...).Err()
}
