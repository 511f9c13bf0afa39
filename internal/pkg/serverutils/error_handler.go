package serverutils

import (
	"errors"

	"clinical-workflow-be/internal/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware maps domain errors onto HTTP statuses. Business-rule
// validation verdicts never reach here (they are response data, not errors).
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var ae *apperror.AppError
		if errors.As(err, &ae) {
			return ctx.Status(statusFor(ae.Kind)).JSON(ErrorBody{
				Success: false,
				Message: ae.Message,
				Kind:    string(ae.Kind),
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return ctx.Status(fe.Code).JSON(ErrorBody{
				Success: false,
				Message: fe.Message,
			})
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorBody{
			Success: false,
			Message: "internal server error",
		})
	}
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict, apperror.KindVersionConflict:
		return fiber.StatusConflict
	case apperror.KindInfraTimeout:
		return fiber.StatusGatewayTimeout
	case apperror.KindDispatchFailure:
		return fiber.StatusBadGateway
	case apperror.KindBadRequest:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
