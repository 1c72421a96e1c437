package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/validation"
)

func statusOf(kind chat.Kind) int {
	switch kind {
	case chat.KindUnauthenticated:
		return fiber.StatusUnauthorized
	case chat.KindForbidden:
		return fiber.StatusForbidden
	case chat.KindValidation:
		return fiber.StatusBadRequest
	case chat.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes the error envelope for err. Unexpected errors are
// logged and reported without detail.
func respondError(c *fiber.Ctx, err error) error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		first, _ := verrs.First()
		err = chat.ValidationError(first.Field, first.Message)
	}

	ce := chat.AsError(err)
	if ce.Kind == chat.KindDependency {
		logging.Ctx(c.UserContext()).Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("request failed")
	}

	body := fiber.Map{
		"success": false,
		"error":   ce.Message,
		"code":    ce.Kind.Code(),
	}
	if ce.Field != "" {
		body["field"] = ce.Field
	}
	return c.Status(statusOf(ce.Kind)).JSON(body)
}

func badBody(c *fiber.Ctx) error {
	return respondError(c, chat.ValidationError("body", "Invalid request body"))
}

// ErrorHandler is the app-wide fiber error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := "INTERNAL_ERROR"
		switch fe.Code {
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
			code = "VALIDATION_ERROR"
		case fiber.StatusTooManyRequests:
			code = "RATE_LIMITED"
		case fiber.StatusUpgradeRequired:
			code = "UPGRADE_REQUIRED"
		}
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"error":   fe.Message,
			"code":    code,
		})
	}
	return respondError(c, err)
}
