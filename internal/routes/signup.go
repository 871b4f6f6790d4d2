package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/phonegate/phonegate/internal/signup"
)

// RegisterSignupRoutes wires the ordered registration steps.
func RegisterSignupRoutes(r fiber.Router, h *signup.Handler) {
	group := r.Group("/signup")
	group.Post("/phone", h.SubmitPhone)
	group.Post("/otp", h.SubmitOTP)
	group.Post("/profile", h.SubmitProfile)
	group.Post("/password", h.SubmitPassword)
}
