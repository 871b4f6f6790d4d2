package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/phonegate/phonegate/internal/config"
	"github.com/phonegate/phonegate/internal/identity"
	"github.com/phonegate/phonegate/internal/lockout"
	"github.com/phonegate/phonegate/internal/phone"
)

// Service authenticates phone+password pairs behind the lockout ledger and
// issues token pairs for authenticated callers.
type Service struct {
	cfg    config.Config
	ids    *identity.Service
	repo   identity.Repository
	ledger *lockout.Ledger
	logger *slog.Logger
}

// NewService wires the login flow's collaborators.
func NewService(cfg config.Config, ids *identity.Service, repo identity.Repository, ledger *lockout.Ledger, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, ids: ids, repo: repo, ledger: ledger, logger: logger}
}

// TokenPair is the authenticated session handed to a caller.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login authenticates a phone+password pair from clientAddr.
//
// The lockout check combines the account and address dimensions: the ban in
// effect is the maximum of the two, and a banned caller is rejected before
// any attempt is consumed. A successful login clears the account's attempt
// record. Malformed and bad-credential failures both record an attempt
// against phone and address.
func (s *Service) Login(ctx context.Context, rawPhone, password, clientAddr string) (identity.User, TokenPair, error) {
	trimmed := strings.TrimSpace(rawPhone)

	normalized, verr := phone.Normalize(trimmed, s.cfg.PhoneRegion)
	account := normalized
	if verr != nil {
		account = trimmed
	}

	remaining, err := s.ledger.MaxRemaining(ctx, account, clientAddr)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	if remaining > 0 {
		return identity.User{}, TokenPair{}, &lockout.LockedOutError{Remaining: remaining}
	}

	if verr != nil {
		if err := s.recordFailure(ctx, account, clientAddr); err != nil {
			return identity.User{}, TokenPair{}, err
		}
		return identity.User{}, TokenPair{}, verr
	}

	user, err := s.ids.Authenticate(ctx, normalized, password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			return identity.User{}, TokenPair{}, err
		}
		if err := s.recordFailure(ctx, account, clientAddr); err != nil {
			return identity.User{}, TokenPair{}, err
		}
		return identity.User{}, TokenPair{}, identity.ErrInvalidCredentials
	}

	if err := s.ledger.Clear(ctx, normalized); err != nil {
		return identity.User{}, TokenPair{}, err
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}

	s.logger.Info("login succeeded", "user_id", user.ID)
	return user, pair, nil
}

// recordFailure charges both identifiers and surfaces a lockout if either
// dimension just crossed the threshold.
func (s *Service) recordFailure(ctx context.Context, account, clientAddr string) error {
	_, accountRemaining, err := s.ledger.RecordFailure(ctx, account)
	if err != nil {
		return err
	}
	_, addrRemaining, err := s.ledger.RecordFailure(ctx, clientAddr)
	if err != nil {
		return err
	}

	remaining := accountRemaining
	if addrRemaining > remaining {
		remaining = addrRemaining
	}
	if remaining > 0 {
		s.logger.Info("identifier locked out", "remaining", remaining)
		return &lockout.LockedOutError{Remaining: remaining}
	}
	return nil
}

// IssueTokens creates a token pair for an already-authenticated user, e.g.
// right after registration completes.
func (s *Service) IssueTokens(user identity.User) (TokenPair, error) {
	return s.issuePair(user)
}

func (s *Service) issuePair(user identity.User) (TokenPair, error) {
	access, accessExp, err := s.sign(user, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.sign(user, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessExp).Seconds()),
	}, nil
}

func (s *Service) sign(user identity.User, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := map[string]any{
		"sub":   user.ID,
		"phone": user.Phone,
		"ver":   user.TokenVersion,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := SignHS256(claims, []byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := ParseAndVerifyHS256(refreshToken, []byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", 0, errors.New("invalid refresh token")
	}
	exp, _ := claims["exp"].(float64)
	if time.Now().Unix() > int64(exp) {
		return "", 0, errors.New("refresh token expired")
	}
	sub, _ := claims["sub"].(string)
	verFloat, _ := claims["ver"].(float64)
	ver := int(verFloat)

	user, err := s.repo.FindByID(ctx, sub)
	if err != nil {
		return "", 0, errors.New("user not found")
	}
	if user.TokenVersion != ver {
		return "", 0, errors.New("token version invalidated")
	}

	now := time.Now()
	accessClaims := map[string]any{
		"sub": sub,
		"ver": ver,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.AccessTokenTTL).Unix(),
	}
	signed, err := SignHS256(accessClaims, []byte(s.cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments the token version so previously issued tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
