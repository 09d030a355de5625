package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/messaging"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

type Config struct {
	Intents         Intents
	Providers       ProviderStatuses
	ProviderConfigs repository.ProviderConfigStore
	Decisions       repository.DecisionLog
	Callbacks       messaging.CallbackQueue
	// MerchantKeys maps an API key to its merchant id.
	MerchantKeys map[string]string
	AdminToken   string
	Log          zerolog.Logger
}

func NewApp(cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
		AppName:       "pasarela",
		ErrorHandler:  writeError,
	})
	h := &handlers{
		intents:   cfg.Intents,
		providers: cfg.Providers,
		configs:   cfg.ProviderConfigs,
		decisions: cfg.Decisions,
		callbacks: cfg.Callbacks,
	}

	app.Use(requestIDMiddleware, requestLogger(cfg.Log))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	merchant := merchantAuth(cfg.MerchantKeys)
	intents := app.Group("/payment-intents", merchant)
	intents.Post("", h.createIntent)
	intents.Get("", h.listIntents)
	intents.Get("/:id", h.getIntent)
	intents.Post("/:id/reroute", h.rerouteIntent)
	intents.Post("/:id/demo/authorize", h.demoAuthorize)
	intents.Post("/:id/demo/cancel", h.demoCancel)
	intents.Post("/:id/refund", h.refundIntent)

	app.Get("/providers", merchantOrAdmin(cfg.MerchantKeys, cfg.AdminToken), h.listProviders)

	admin := app.Group("/admin", adminAuth(cfg.AdminToken))
	admin.Put("/merchants/:merchantId/providers/:provider", h.upsertProviderConfig)
	admin.Delete("/merchants/:merchantId/providers", h.resetProviderConfigs)
	admin.Get("/routing/decisions", h.listDecisions)
	admin.Get("/routing/decisions/:id", h.getDecision)
	admin.Get("/routing/health", h.routingHealth)
	admin.Get("/payment-intents/:id/events", h.listEvents)

	app.Post("/webhooks/:provider", h.receiveCallback)

	return app
}
