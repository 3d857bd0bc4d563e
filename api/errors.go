package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/errs"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsNotFound(err):
		return fiber.StatusNotFound
	case errs.IsValidation(err):
		return fiber.StatusBadRequest
	case errs.IsConflict(err), errors.Is(err, contextdb.ErrNotReady):
		return fiber.StatusConflict
	case errors.Is(err, errs.ErrReadOnly):
		return fiber.StatusForbidden
	case errs.IsCapacity(err):
		return fiber.StatusTooManyRequests
	case errs.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, contextdb.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errs.IsProvider(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"err", err,
		)
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}
