package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/messaging"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

// writeError renders err as {"error", "message", "requestId"} with its mapped status.
func writeError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "INTERNAL_ERROR"
	message := "internal error"
	body := fiber.Map{}

	var (
		validation    *domain.ValidationError
		conflict      *domain.IdempotencyConflictError
		illegal       *domain.IllegalTransitionError
		notSelectable *domain.ProviderNotSelectableError
		downstream    *domain.DownstreamProviderError
		fiberErr      *fiber.Error
	)
	switch {
	case errors.As(err, &validation):
		status, code, message = fiber.StatusBadRequest, "VALIDATION_ERROR", validation.Error()
		body["field"] = validation.Field
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = fiber.StatusUnauthorized, "UNAUTHORIZED", err.Error()
	case errors.Is(err, domain.ErrIntentNotFound), errors.Is(err, repository.ErrDecisionNotFound):
		status, code, message = fiber.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.As(err, &conflict):
		status, code, message = fiber.StatusConflict, "IDEMPOTENCY_CONFLICT", conflict.Error()
		body["field"] = conflict.Field
	case errors.As(err, &illegal):
		status, code, message = fiber.StatusConflict, "ILLEGAL_TRANSITION", illegal.Error()
	case errors.Is(err, domain.ErrCreationInProgress):
		status, code, message = fiber.StatusConflict, "CREATION_IN_PROGRESS", err.Error()
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		status, code, message = fiber.StatusConflict, "CONCURRENT_MODIFICATION", err.Error()
	case errors.Is(err, domain.ErrNotDemoIntent):
		status, code, message = fiber.StatusConflict, "NOT_DEMO_INTENT", err.Error()
	case errors.As(err, &notSelectable):
		status, code, message = fiber.StatusUnprocessableEntity, "PROVIDER_NOT_SELECTABLE", notSelectable.Error()
		body["reason"] = notSelectable.Reason
	case errors.Is(err, domain.ErrTooManyAttempts):
		status, code, message = fiber.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", err.Error()
	case errors.As(err, &downstream):
		status, code, message = fiber.StatusBadGateway, "DOWNSTREAM_ERROR", downstream.Error()
		body["reason"] = downstream.Reason()
	case errors.Is(err, domain.ErrNoProviderAvailable):
		status, code, message = fiber.StatusServiceUnavailable, "NO_PROVIDER_AVAILABLE", err.Error()
	case errors.Is(err, messaging.ErrQueueFull):
		status, code, message = fiber.StatusServiceUnavailable, "QUEUE_FULL", err.Error()
	case errors.As(err, &fiberErr):
		status, code, message = fiberErr.Code, "HTTP_ERROR", fiberErr.Message
	}

	body["error"] = code
	body["message"] = message
	body["requestId"] = requestID(c)
	return c.Status(status).JSON(body)
}
