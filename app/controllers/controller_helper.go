package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/repository"
)

// cannotSignIn is the single answer for every refused sign-in, so callers
// cannot tell an unverified email from a disabled account.
func cannotSignIn(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "cannot_sign_in"})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

// storeFailure maps store errors to a status. Unavailability is 503 so
// clients and webhook providers retry.
func storeFailure(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.Is(err, repository.ErrInvalidArgument):
		return badRequest(c, err.Error())
	case errors.Is(err, repository.ErrStoreUnavailable):
		log.Warnf("[HTTP] %s: store unavailable: %v", op, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable"})
	default:
		log.Errorf("[HTTP] %s failed: %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
}
