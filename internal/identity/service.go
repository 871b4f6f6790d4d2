package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// ErrInvalidCredentials is the generic authentication failure. It covers
// both unknown accounts and wrong passwords so responses do not reveal
// whether a phone number is registered.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError reports a rejected field on account creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Service manages account lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Exists reports whether an account holds the phone number.
func (s *Service) Exists(ctx context.Context, phone string) (bool, error) {
	_, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create validates the candidate record, hashes the password, and stores
// the account atomically. A rejected field surfaces as a ValidationError.
func (s *Service) Create(ctx context.Context, rec Record) (User, error) {
	if err := validateRecord(rec); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rec.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Phone:        rec.Phone,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		Email:        rec.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrExists) {
			return User{}, &ValidationError{Field: "phone", Reason: "already registered"}
		}
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies a phone+password pair against the stored hash.
func (s *Service) Authenticate(ctx context.Context, phone, password string) (User, error) {
	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

func validateRecord(rec Record) error {
	if rec.Phone == "" {
		return &ValidationError{Field: "phone", Reason: "required"}
	}
	if rec.FirstName == "" {
		return &ValidationError{Field: "first_name", Reason: "required"}
	}
	if rec.LastName == "" {
		return &ValidationError{Field: "last_name", Reason: "required"}
	}
	if rec.Email == "" || !strings.Contains(rec.Email, "@") {
		return &ValidationError{Field: "email", Reason: "invalid"}
	}
	if len(rec.Password) < minPasswordLength {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	return nil
}
