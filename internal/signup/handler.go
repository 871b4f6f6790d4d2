package signup

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/phonegate/phonegate/internal/auth"
	"github.com/phonegate/phonegate/internal/cache"
	"github.com/phonegate/phonegate/internal/identity"
	"github.com/phonegate/phonegate/internal/lockout"
	"github.com/phonegate/phonegate/internal/phone"
	"github.com/phonegate/phonegate/internal/session"
)

const sessionCookie = "pg_session"

// Handler exposes the registration steps over HTTP. The flow session rides
// in the cache under an opaque cookie; the handler loads it before each step
// and saves it after.
type Handler struct {
	flow     *Flow
	sessions *session.Manager
	tokens   *auth.Service
}

// NewHandler constructs a signup HTTP handler.
func NewHandler(flow *Flow, sessions *session.Manager, tokens *auth.Service) *Handler {
	return &Handler{flow: flow, sessions: sessions, tokens: tokens}
}

func (h *Handler) loadSession(c *fiber.Ctx) (string, Session, error) {
	id := c.Cookies(sessionCookie)
	sess := NewSession()
	if id == "" {
		return h.sessions.NewID(), sess, nil
	}
	if _, err := h.sessions.Load(c.UserContext(), id, &sess); err != nil {
		return "", Session{}, err
	}
	if sess.Phase == "" {
		sess = NewSession()
	}
	return id, sess, nil
}

func (h *Handler) saveSession(c *fiber.Ctx, id string, sess Session) error {
	if err := h.sessions.Save(c.UserContext(), id, sess); err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    id,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return nil
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// SubmitPhone handles the first step: an existing account is diverted to
// login, an unknown one gets an OTP challenge.
func (h *Handler) SubmitPhone(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	id, sess, err := h.loadSession(c)
	if err != nil {
		return mapFlowError(err)
	}

	step, ferr := h.flow.SubmitPhone(c.UserContext(), &sess, req.Phone)
	if err := h.saveSession(c, id, sess); err != nil {
		return mapFlowError(err)
	}
	if ferr != nil {
		return mapFlowError(ferr)
	}

	if step.ExistingAccount {
		return c.Status(http.StatusOK).JSON(fiber.Map{"next": "login", "phone": step.Phone})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"next": "otp", "phone": step.Phone, "token": step.Token})
}

type otpRequest struct {
	Phone string `json:"phone"`
	Token string `json:"token"`
	Code  string `json:"code"`
}

// SubmitOTP handles the code verification step.
func (h *Handler) SubmitOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	id, sess, err := h.loadSession(c)
	if err != nil {
		return mapFlowError(err)
	}

	ferr := h.flow.SubmitOTP(c.UserContext(), &sess, req.Phone, req.Token, req.Code)
	if err := h.saveSession(c, id, sess); err != nil {
		return mapFlowError(err)
	}
	if ferr != nil {
		if errors.Is(ferr, ErrCodeMismatch) {
			// The challenge is still live: hand the same token back so
			// the caller can retry.
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "code mismatch", "token": req.Token})
		}
		return mapFlowError(ferr)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"next": "profile"})
}

type profileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// SubmitProfile collects first name, last name, and email.
func (h *Handler) SubmitProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	id, sess, err := h.loadSession(c)
	if err != nil {
		return mapFlowError(err)
	}

	ferr := h.flow.SubmitProfile(c.UserContext(), &sess, req.FirstName, req.LastName, req.Email)
	if err := h.saveSession(c, id, sess); err != nil {
		return mapFlowError(err)
	}
	if ferr != nil {
		return mapFlowError(ferr)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"next": "password"})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// SubmitPassword finishes the flow: the account is created and the new
// session is authenticated with a token pair.
func (h *Handler) SubmitPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	id, sess, err := h.loadSession(c)
	if err != nil {
		return mapFlowError(err)
	}

	user, ferr := h.flow.SubmitPassword(c.UserContext(), &sess, req.Password)
	if ferr != nil {
		if err := h.saveSession(c, id, sess); err != nil {
			return mapFlowError(err)
		}
		return mapFlowError(ferr)
	}

	// The flow is over; its state does not outlive it.
	if err := h.sessions.Delete(c.UserContext(), id); err != nil {
		return mapFlowError(err)
	}
	c.Cookie(&fiber.Cookie{
		Name:    sessionCookie,
		Value:   "",
		Expires: time.Unix(0, 0),
	})

	pair, err := h.tokens.IssueTokens(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"user_id":       user.ID,
		"phone":         user.Phone,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
	})
}

// mapFlowError translates core errors into HTTP responses. The remaining
// ban duration is always surfaced when a lockout blocks an action.
func mapFlowError(err error) error {
	var lerr *lockout.LockedOutError
	if errors.As(err, &lerr) {
		return fiber.NewError(http.StatusTooManyRequests, lerr.Error())
	}

	var perr *phone.ValidationError
	if errors.As(err, &perr) {
		return fiber.NewError(http.StatusBadRequest, perr.Error())
	}

	var verr *identity.ValidationError
	if errors.As(err, &verr) {
		return fiber.NewError(http.StatusBadRequest, verr.Error())
	}

	if errors.Is(err, ErrFlowReset) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}

	if errors.Is(err, cache.ErrUnavailable) {
		return fiber.NewError(http.StatusServiceUnavailable, "temporarily unavailable")
	}

	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
