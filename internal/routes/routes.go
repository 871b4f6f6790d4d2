package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/phonegate/phonegate/internal/auth"
	"github.com/phonegate/phonegate/internal/cache"
	"github.com/phonegate/phonegate/internal/config"
	"github.com/phonegate/phonegate/internal/identity"
	"github.com/phonegate/phonegate/internal/lockout"
	"github.com/phonegate/phonegate/internal/middleware"
	"github.com/phonegate/phonegate/internal/notification"
	"github.com/phonegate/phonegate/internal/otp"
	"github.com/phonegate/phonegate/internal/session"
	"github.com/phonegate/phonegate/internal/signup"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Outside of dev the shared stores are mandatory: the lockout ledger
	// and OTP challenges must survive across instances.
	if !isDev(d.Cfg.Env) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Shared TTL stores, one namespace each.
	var ledgerStore, otpStore, sessionStore cache.Store
	if d.Cache != nil {
		ledgerStore = cache.NewRedisStore(d.Cache, "lockout")
		otpStore = cache.NewRedisStore(d.Cache, "otp")
		sessionStore = cache.NewRedisStore(d.Cache, "session")
	} else {
		ledgerStore = cache.NewMemoryStore(nil)
		otpStore = cache.NewMemoryStore(nil)
		sessionStore = cache.NewMemoryStore(nil)
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}

	ledger := lockout.NewLedger(ledgerStore, d.Cfg.BanThreshold, d.Cfg.BanWindow, nil)
	sender := notification.NewLoggerSender(d.Logger)
	issuer := otp.NewIssuer(otpStore, sender, d.Cfg.OTPTTL)
	sessions := session.NewManager(sessionStore, d.Cfg.SessionTTL)

	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identitySvc, identityRepo, ledger, d.Logger)
	authHandler := auth.NewHandler(authSvc)

	flow := signup.NewFlow(identitySvc, issuer, ledger, d.Cfg.PhoneRegion, d.Logger)
	signupHandler := signup.NewHandler(flow, sessions, authSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(d.Cfg, identityRepo)

	RegisterSignupRoutes(api, signupHandler)
	RegisterAuthRoutes(api, authHandler, jwtmw)

	protected := api.Group("", jwtmw)
	protected.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		user, err := identityRepo.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		return c.JSON(fiber.Map{
			"user_id":    user.ID,
			"phone":      user.Phone,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"email":      user.Email,
			"created_at": user.CreatedAt,
		})
	})

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
