package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/client"
	"github.com/alexsandroveiga/pasarela/src/configuration/logger"
	"github.com/alexsandroveiga/pasarela/src/domain"
)

// Drives one checkout against a running server: create, authorize on the
// demo provider, optionally reroute a decline, and poll until settled.
func main() {
	godotenv.Load()

	baseURL := flag.String("url", envOr("PASARELA_URL", "http://localhost:8080"), "API base URL")
	apiKey := flag.String("key", os.Getenv("PASARELA_API_KEY"), "merchant API key")
	amount := flag.Int64("amount", 1999, "amount in minor units")
	currency := flag.String("currency", "EUR", "ISO currency code")
	preference := flag.String("provider", "AUTO", "provider preference")
	cvv := flag.String("cvv", "123", "demo card CVV; 000 declines")
	reroute := flag.String("reroute", "", "provider to retry with after a decline")
	interval := flag.Duration("interval", time.Second, "status poll interval")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	logger.Init("info", true)
	log := logger.WithComponent("view")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*baseURL, *apiKey)
	created, err := c.CreateIntent(ctx, uuid.NewString(), client.CreateRequest{
		AmountMinor:        *amount,
		Currency:           *currency,
		ProviderPreference: *preference,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create payment intent")
	}
	log.Info().
		Str("intentId", created.IntentID).
		Str("provider", string(created.Provider)).
		Str("reason", created.RoutingReasonCode).
		Interface("checkout", created.CheckoutConfig).
		Msg("created")

	intent := settle(ctx, log, c, created, *cvv, *interval)
	if intent.Status == domain.StatusFailed && *reroute != "" {
		next, err := c.Reroute(ctx, intent.ID, domain.ReasonUserRetryOtherProvider, domain.Provider(*reroute))
		if err != nil {
			log.Fatal().Err(err).Msg("reroute")
		}
		log.Info().Str("intentId", next.IntentID).Str("provider", string(next.Provider)).Msg("rerouted")
		intent = settle(ctx, log, c, next, "123", *interval)
	}

	log.Info().
		Str("intentId", intent.ID).
		Str("status", string(intent.Status)).
		Int("attempt", intent.AttemptNumber).
		Str("failureReason", intent.FailureReason).
		Msg("settled")
}

func settle(ctx context.Context, log zerolog.Logger, c *client.Client, created client.Created, cvv string, interval time.Duration) domain.PaymentIntent {
	if created.Provider == domain.ProviderDemo && created.Status != domain.StatusFailed {
		if _, err := c.DemoAuthorize(ctx, created.IntentID, domain.Card{CardNumber: "4242424242424242", CVV: cvv}); err != nil {
			log.Fatal().Err(err).Msg("demo authorize")
		}
	}
	intent, err := client.Poll(ctx, interval, func(ctx context.Context) (domain.PaymentIntent, error) {
		return c.GetIntent(ctx, created.IntentID)
	}, client.Settled)
	if err != nil {
		log.Fatal().Err(err).Str("intentId", created.IntentID).Msg("poll")
	}
	return intent
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
