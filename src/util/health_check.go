package util

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/configuration/storage"
	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
)

type HealthStatus struct {
	Failing         bool      `json:"failing"`
	MinResponseTime int64     `json:"minResponseTime"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// HealthCache holds the last probe result per provider.
type HealthCache interface {
	Get(ctx context.Context, provider domain.Provider) (HealthStatus, bool)
	Set(ctx context.Context, provider domain.Provider, status HealthStatus, ttl time.Duration)
}

func NewInMemoryHealthCache(s *storage.InMemoryStorage) HealthCache {
	return &inMemoryHealthCache{s}
}

type inMemoryHealthCache struct {
	storage *storage.InMemoryStorage
}

func (c *inMemoryHealthCache) Get(_ context.Context, provider domain.Provider) (HealthStatus, bool) {
	raw, ok := c.storage.Get(healthKey(provider))
	if !ok {
		return HealthStatus{}, false
	}
	var status HealthStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return HealthStatus{}, false
	}
	return status, true
}

func (c *inMemoryHealthCache) Set(_ context.Context, provider domain.Provider, status HealthStatus, ttl time.Duration) {
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	c.storage.Set(healthKey(provider), raw, ttl)
}

func NewRedisHealthCache(client *redis.Client) HealthCache {
	return &redisHealthCache{client}
}

type redisHealthCache struct {
	client *redis.Client
}

func (c *redisHealthCache) Get(ctx context.Context, provider domain.Provider) (HealthStatus, bool) {
	statusJSON, err := c.client.Get(ctx, healthKey(provider)).Result()
	if err != nil {
		return HealthStatus{}, false
	}
	var status HealthStatus
	if err := json.Unmarshal([]byte(statusJSON), &status); err != nil {
		return HealthStatus{}, false
	}
	return status, true
}

func (c *redisHealthCache) Set(ctx context.Context, provider domain.Provider, status HealthStatus, ttl time.Duration) {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return
	}
	c.client.Set(ctx, healthKey(provider), statusJSON, ttl)
}

func healthKey(provider domain.Provider) string {
	return "health_status:" + string(provider)
}

// HealthChecker probes provider liveness endpoints and caches the answer for ttl.
type HealthChecker struct {
	client *http.Client
	urls   map[domain.Provider]string
	cache  HealthCache
	ttl    time.Duration
	log    zerolog.Logger
	mu     sync.Mutex
}

func NewHealthChecker(urls map[domain.Provider]string, cache HealthCache, ttl time.Duration, log zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		client: &http.Client{Timeout: 5 * time.Second},
		urls:   urls,
		cache:  cache,
		ttl:    ttl,
		log:    log,
	}
}

// IsHealthy reports liveness. A provider without a probe URL counts as live.
func (h *HealthChecker) IsHealthy(ctx context.Context, provider domain.Provider) bool {
	url := h.urls[provider]
	if url == "" {
		return true
	}
	if status, ok := h.cache.Get(ctx, provider); ok {
		return !status.Failing
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.cache.Get(ctx, provider); ok {
		return !status.Failing
	}
	status := h.fetchHealth(ctx, provider, url)
	h.cache.Set(ctx, provider, status, h.ttl)
	return !status.Failing
}

// Refresh re-probes every configured provider regardless of cache state.
func (h *HealthChecker) Refresh(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for provider, url := range h.urls {
		if url == "" {
			continue
		}
		h.cache.Set(ctx, provider, h.fetchHealth(ctx, provider, url), h.ttl)
	}
}

func (h *HealthChecker) fetchHealth(ctx context.Context, provider domain.Provider, url string) HealthStatus {
	start := time.Now()
	status := HealthStatus{Failing: true, CheckedAt: start.UTC()}
	defer func() {
		metrics.ObserveProbe(string(provider), !status.Failing, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", string(provider)).Msg("health check request")
		return status
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", string(provider)).Msg("health check error")
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.log.Warn().Int("status", resp.StatusCode).Str("provider", string(provider)).Msg("health check failed")
		return status
	}

	var body HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		// a non-JSON 2xx still proves the endpoint is up
		body = HealthStatus{}
	}
	status.Failing = body.Failing
	status.MinResponseTime = body.MinResponseTime
	return status
}
