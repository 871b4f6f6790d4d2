package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log line per request. Request bodies are never
// logged; they carry codes and passwords. The client address is included
// because it is a lockout dimension and ban decisions need to be traceable.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		requestID, _ := c.Locals(requestIDHeader).(string)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestID),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		switch {
		case err != nil || status >= http.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case status == http.StatusTooManyRequests:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
