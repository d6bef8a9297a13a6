package handlers

import (
	"errors"

	"hyrebuy-backend/services"

	"github.com/gofiber/fiber/v2"
)

// errorStatus maps a service error kind to its HTTP status and public message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInsufficientBalance):
		return fiber.StatusBadRequest, "insufficient balance"
	case errors.Is(err, services.ErrUnknownActionKind):
		return fiber.StatusBadRequest, "unknown action type"
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest, "validation failed"
	case errors.Is(err, services.ErrInvalidInvite):
		return fiber.StatusBadRequest, "invalid or expired invite"
	case errors.Is(err, services.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, services.ErrNotAMember):
		return fiber.StatusForbidden, "not a member of this group"
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrGroupNotFound):
		return fiber.StatusNotFound, "group not found"
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, "not found"
	case errors.Is(err, services.ErrGroupFull):
		return fiber.StatusConflict, "group is full"
	case errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict, "conflict"
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, msg := errorStatus(err)
	body := fiber.Map{
		"error": msg,
		"cause": err.Error(),
	}
	var ib *services.InsufficientBalanceError
	if errors.As(err, &ib) {
		body["available"] = ib.Available
		body["requested"] = ib.Requested
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid JSON",
		"cause": err.Error(),
	})
}
