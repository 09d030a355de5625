package api

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
)

const (
	headerRequestID = "X-Request-Id"
	headerAPIKey    = "X-Api-Key"

	localRequestID  = "requestId"
	localMerchantID = "merchantId"
	localAdmin      = "admin"
)

func requestIDMiddleware(c fiber.Ctx) error {
	id := c.Get(headerRequestID)
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Locals(localRequestID, id)
	c.Set(headerRequestID, id)
	return c.Next()
}

func requestID(c fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			if werr := writeError(c, err); werr != nil {
				return werr
			}
		}
		elapsed := time.Since(start)
		status := c.Response().StatusCode()
		metrics.ObserveRequest(c.Method(), c.Route().Path, status, elapsed)

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error().Err(err)
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("requestId", requestID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
		return nil
	}
}

// merchantAuth resolves X-Api-Key to a merchant id.
func merchantAuth(keys map[string]string) fiber.Handler {
	return func(c fiber.Ctx) error {
		merchantID, ok := lookupMerchant(keys, c.Get(headerAPIKey))
		if !ok {
			return domain.ErrUnauthorized
		}
		c.Locals(localMerchantID, merchantID)
		return c.Next()
	}
}

func adminAuth(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !isAdmin(token, c.Get(fiber.HeaderAuthorization)) {
			return domain.ErrUnauthorized
		}
		c.Locals(localAdmin, true)
		return c.Next()
	}
}

// merchantOrAdmin accepts either credential; admins see global state.
func merchantOrAdmin(keys map[string]string, token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if merchantID, ok := lookupMerchant(keys, c.Get(headerAPIKey)); ok {
			c.Locals(localMerchantID, merchantID)
			return c.Next()
		}
		if isAdmin(token, c.Get(fiber.HeaderAuthorization)) {
			c.Locals(localAdmin, true)
			return c.Next()
		}
		return domain.ErrUnauthorized
	}
}

func lookupMerchant(keys map[string]string, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	merchantID, ok := keys[apiKey]
	return merchantID, ok
}

func isAdmin(token, header string) bool {
	if token == "" {
		return false
	}
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func merchantID(c fiber.Ctx) string {
	id, _ := c.Locals(localMerchantID).(string)
	return id
}
