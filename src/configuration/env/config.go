package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alexsandroveiga/pasarela/src/configuration/database/redis"
	"github.com/alexsandroveiga/pasarela/src/domain"
)

const (
	PORT                   = "PORT"
	LOG_LEVEL              = "LOG_LEVEL"
	STORAGE                = "STORAGE"
	SQLITE_PATH            = "SQLITE_PATH"
	MERCHANT_API_KEYS      = "MERCHANT_API_KEYS"
	ADMIN_TOKEN            = "ADMIN_TOKEN"
	ROUTING_PRIORITY       = "ROUTING_PRIORITY"
	ROUTING_DEMO_FALLBACK  = "ROUTING_DEMO_FALLBACK"
	IDEMPOTENCY_TTL        = "IDEMPOTENCY_TTL"
	IDEMPOTENCY_WAIT       = "IDEMPOTENCY_WAIT"
	PROVIDER_TIMEOUT       = "PROVIDER_TIMEOUT"
	MAX_ATTEMPTS_PER_CHAIN = "MAX_ATTEMPTS_PER_CHAIN"
	WORKER_COUNT           = "WORKER_COUNT"
	HEALTH_PROBE_SCHEDULE  = "HEALTH_PROBE_SCHEDULE"
	HEALTH_CACHE_TTL       = "HEALTH_CACHE_TTL"
	FRONTEND_BASE_URL      = "FRONTEND_BASE_URL"
)

type Config struct {
	Port            string
	LogLevel        string
	Storage         string
	SQLitePath      string
	RedisURL        string
	MerchantKeys    map[string]string
	AdminToken      string
	Routing         RoutingConfig
	Idempotency     IdempotencyConfig
	ProviderTimeout time.Duration
	MaxAttempts     int
	WorkerCount     int
	ProbeSchedule   string
	HealthCacheTTL  time.Duration
	FrontendURL     string
	Providers       ProvidersConfig
}

type RoutingConfig struct {
	Priority     []domain.Provider
	DemoFallback bool
}

type IdempotencyConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// ProvidersConfig is the global provider configuration; merchants may override it.
type ProvidersConfig struct {
	Stripe     ProviderEnv
	Adyen      ProviderEnv
	Mastercard ProviderEnv
	Paypal     ProviderEnv
}

type ProviderEnv struct {
	Enabled   bool
	BaseURL   string
	HealthURL string
	Fields    map[string]string
}

func (p ProvidersConfig) Configs() []domain.ProviderConfig {
	entries := []struct {
		provider domain.Provider
		env      ProviderEnv
	}{
		{domain.ProviderStripe, p.Stripe},
		{domain.ProviderAdyen, p.Adyen},
		{domain.ProviderMastercard, p.Mastercard},
		{domain.ProviderPaypal, p.Paypal},
	}
	out := make([]domain.ProviderConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ProviderConfig{
			Provider: e.provider,
			Enabled:  e.env.Enabled,
			Config:   e.env.Fields,
		})
	}
	return out
}

func (p ProvidersConfig) HealthURLs() map[domain.Provider]string {
	return map[domain.Provider]string{
		domain.ProviderStripe:     p.Stripe.HealthURL,
		domain.ProviderAdyen:      p.Adyen.HealthURL,
		domain.ProviderMastercard: p.Mastercard.HealthURL,
		domain.ProviderPaypal:     p.Paypal.HealthURL,
	}
}

// Load reads a .env file when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:           getString(PORT, ":8080"),
		LogLevel:       getString(LOG_LEVEL, "info"),
		Storage:        getString(STORAGE, "memory"),
		SQLitePath:     getString(SQLITE_PATH, "pasarela.db"),
		RedisURL:       os.Getenv(redis.REDIS_URL),
		AdminToken:     os.Getenv(ADMIN_TOKEN),
		ProbeSchedule:  getString(HEALTH_PROBE_SCHEDULE, "@every 30s"),
		FrontendURL:    getString(FRONTEND_BASE_URL, "http://localhost:3000"),
		HealthCacheTTL: 5 * time.Second,
	}

	var err error
	if cfg.Providers, err = loadProviders(); err != nil {
		return Config{}, err
	}
	if cfg.MerchantKeys, err = parseMerchantKeys(os.Getenv(MERCHANT_API_KEYS)); err != nil {
		return Config{}, err
	}
	if cfg.Routing.Priority, err = parsePriority(getString(ROUTING_PRIORITY, "STRIPE,ADYEN,MASTERCARD,PAYPAL")); err != nil {
		return Config{}, err
	}
	if cfg.Routing.DemoFallback, err = getBool(ROUTING_DEMO_FALLBACK, true); err != nil {
		return Config{}, err
	}
	if cfg.Idempotency.TTL, err = getDuration(IDEMPOTENCY_TTL, 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Idempotency.Wait, err = getDuration(IDEMPOTENCY_WAIT, 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = getDuration(PROVIDER_TIMEOUT, 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.HealthCacheTTL, err = getDuration(HEALTH_CACHE_TTL, 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = getInt(MAX_ATTEMPTS_PER_CHAIN, 3); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = getInt(WORKER_COUNT, 4); err != nil {
		return Config{}, err
	}
	if cfg.Storage != "memory" && cfg.Storage != "sqlite" {
		return Config{}, fmt.Errorf("%s must be memory or sqlite, got %q", STORAGE, cfg.Storage)
	}
	return cfg, nil
}

func loadProviders() (ProvidersConfig, error) {
	var (
		cfg ProvidersConfig
		err error
	)
	if cfg.Stripe, err = providerEnv("STRIPE", "https://api.stripe.com", map[string]string{
		"secretKey":      "STRIPE_SECRET_KEY",
		"publishableKey": "STRIPE_PUBLISHABLE_KEY",
	}); err != nil {
		return ProvidersConfig{}, err
	}
	if cfg.Adyen, err = providerEnv("ADYEN", "https://checkout-test.adyen.com", map[string]string{
		"apiKey":          "ADYEN_API_KEY",
		"merchantAccount": "ADYEN_MERCHANT_ACCOUNT",
		"clientKey":       "ADYEN_CLIENT_KEY",
	}); err != nil {
		return ProvidersConfig{}, err
	}
	if cfg.Mastercard, err = providerEnv("MASTERCARD", "", map[string]string{
		"gatewayHost": "MASTERCARD_GATEWAY_HOST",
		"merchantId":  "MASTERCARD_MERCHANT_ID",
		"apiPassword": "MASTERCARD_API_PASSWORD",
	}); err != nil {
		return ProvidersConfig{}, err
	}
	if cfg.Paypal, err = providerEnv("PAYPAL", "", map[string]string{
		"clientId":     "PAYPAL_CLIENT_ID",
		"clientSecret": "PAYPAL_CLIENT_SECRET",
	}); err != nil {
		return ProvidersConfig{}, err
	}
	return cfg, nil
}

func providerEnv(prefix, defaultBaseURL string, fields map[string]string) (ProviderEnv, error) {
	p := ProviderEnv{
		BaseURL:   getString(prefix+"_BASE_URL", defaultBaseURL),
		HealthURL: os.Getenv(prefix + "_HEALTH_URL"),
		Fields:    make(map[string]string, len(fields)),
	}
	for field, key := range fields {
		if v := os.Getenv(key); v != "" {
			p.Fields[field] = v
		}
	}
	enabled, err := getBool(prefix+"_ENABLED", true)
	if err != nil {
		return ProviderEnv{}, err
	}
	p.Enabled = enabled
	return p, nil
}

func parseMerchantKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		apiKey, merchantID, ok := strings.Cut(pair, ":")
		if !ok || apiKey == "" || merchantID == "" {
			return nil, fmt.Errorf("%s: malformed entry %q, want key:merchantId", MERCHANT_API_KEYS, pair)
		}
		keys[apiKey] = merchantID
	}
	return keys, nil
}

func parsePriority(raw string) ([]domain.Provider, error) {
	var out []domain.Provider
	seen := make(map[domain.Provider]bool)
	for _, name := range strings.Split(raw, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, ok := domain.ParseProvider(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown provider %q", ROUTING_PRIORITY, name)
		}
		if p == domain.ProviderDemo || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
