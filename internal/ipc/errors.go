package ipc

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/outbound"
	"github.com/nhle/mailsync/internal/service"
	"github.com/nhle/mailsync/internal/store"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, mailbox.ErrNotConnected):
		return fiber.StatusConflict
	case errors.Is(err, mailbox.ErrNotFound),
		errors.Is(err, mailbox.ErrFolderNotFound),
		errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, outbound.ErrNotConfigured):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, mailbox.ErrConnectionFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, service.ErrNoStore):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// handleError writes {"error": message} with the mapped status.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}
