package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/phonegate/phonegate/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints. Logout requires a valid
// access token.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", jwtmw, h.Logout)
}
