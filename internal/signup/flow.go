package signup

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phonegate/phonegate/internal/identity"
	"github.com/phonegate/phonegate/internal/lockout"
	"github.com/phonegate/phonegate/internal/otp"
	"github.com/phonegate/phonegate/internal/phone"
)

// Phase tags the current step of the registration flow. Transitions never
// rely on which session fields happen to be populated.
type Phase string

const (
	PhaseAwaitingPhone    Phase = "awaiting_phone"
	PhaseAwaitingOTP      Phase = "awaiting_otp"
	PhaseAwaitingProfile  Phase = "awaiting_profile"
	PhaseAwaitingPassword Phase = "awaiting_password"
	PhaseCompleted        Phase = "completed"
)

var (
	// ErrCodeMismatch indicates the supplied one-time code did not match.
	// The challenge stays valid; the attempt was recorded.
	ErrCodeMismatch = errors.New("code mismatch")

	// ErrFlowReset indicates the flow arrived at a step without its
	// prerequisites and was sent back to the phone step.
	ErrFlowReset = errors.New("registration flow reset")
)

// Session is the per-caller flow state. The caller persists it opaquely
// between requests; it never outlives the flow.
type Session struct {
	Phase     Phase  `json:"phase"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// NewSession starts a flow at the phone step.
func NewSession() Session {
	return Session{Phase: PhaseAwaitingPhone}
}

func (s *Session) reset() {
	*s = NewSession()
}

// PhoneStep is the outcome of a phone submission.
type PhoneStep struct {
	// Phone is the normalized number.
	Phone string

	// ExistingAccount diverts the caller to the login flow, pre-filled
	// with the phone number.
	ExistingAccount bool

	// Token points at the issued challenge. It is round-tripped through
	// the caller, not stored against the session; the challenge store is
	// the source of truth between requests.
	Token string
}

// Flow orchestrates the ordered registration steps: phone submission, OTP
// verification, profile collection, and password creation. It consults the
// lockout ledger before accepting OTP input and reports mismatches back to
// it.
type Flow struct {
	ids    *identity.Service
	issuer *otp.Issuer
	ledger *lockout.Ledger
	region string
	logger *slog.Logger
}

// NewFlow wires the flow's collaborators. region is the default region for
// phone-number parsing.
func NewFlow(ids *identity.Service, issuer *otp.Issuer, ledger *lockout.Ledger, region string, logger *slog.Logger) *Flow {
	return &Flow{ids: ids, issuer: issuer, ledger: ledger, region: region, logger: logger}
}

// SubmitPhone handles the phone step. It restarts the flow regardless of
// the current phase. A known number diverts to login; an unknown, unbanned
// number gets a fresh OTP challenge and the flow moves to the OTP step.
func (f *Flow) SubmitPhone(ctx context.Context, sess *Session, raw string) (PhoneStep, error) {
	sess.reset()

	normalized, err := phone.Normalize(raw, f.region)
	if err != nil {
		return PhoneStep{}, err
	}

	exists, err := f.ids.Exists(ctx, normalized)
	if err != nil {
		return PhoneStep{}, err
	}
	if exists {
		sess.Phone = normalized
		return PhoneStep{Phone: normalized, ExistingAccount: true}, nil
	}

	remaining, err := f.ledger.RemainingBan(ctx, normalized)
	if err != nil {
		return PhoneStep{}, err
	}
	if remaining > 0 {
		return PhoneStep{}, &lockout.LockedOutError{Remaining: remaining}
	}

	challenge, err := f.issuer.Issue(ctx, normalized)
	if err != nil {
		return PhoneStep{}, err
	}

	sess.Phase = PhaseAwaitingOTP
	f.logger.Info("otp challenge issued", "phone", normalized)

	return PhoneStep{Phone: normalized, Token: challenge.Token}, nil
}

// SubmitOTP handles the OTP step. A banned phone resets the flow without
// consuming an attempt. A match clears the phone's attempt record, binds
// the phone to the session, and advances to the profile step. A mismatch
// records a failure; the same challenge stays valid until the ban triggers
// or it expires.
func (f *Flow) SubmitOTP(ctx context.Context, sess *Session, rawPhone, token, code string) error {
	if sess.Phase != PhaseAwaitingOTP {
		sess.reset()
		return ErrFlowReset
	}

	normalized, err := phone.Normalize(rawPhone, f.region)
	if err != nil {
		return err
	}

	remaining, err := f.ledger.RemainingBan(ctx, normalized)
	if err != nil {
		return err
	}
	if remaining > 0 {
		sess.reset()
		return &lockout.LockedOutError{Remaining: remaining}
	}

	match, err := f.issuer.Verify(ctx, token, code)
	if err != nil {
		return err
	}

	if !match {
		banned, remaining, err := f.ledger.RecordFailure(ctx, normalized)
		if err != nil {
			return err
		}
		if banned {
			sess.reset()
			f.logger.Info("phone banned after otp failures", "phone", normalized)
			return &lockout.LockedOutError{Remaining: remaining}
		}
		return ErrCodeMismatch
	}

	if err := f.ledger.Clear(ctx, normalized); err != nil {
		return err
	}
	if err := f.issuer.Invalidate(ctx, token); err != nil {
		return err
	}

	sess.Phone = normalized
	sess.Phase = PhaseAwaitingProfile
	return nil
}

// SubmitProfile collects the non-sensitive profile fields and advances to
// the password step.
func (f *Flow) SubmitProfile(ctx context.Context, sess *Session, firstName, lastName, email string) error {
	if sess.Phase != PhaseAwaitingProfile || sess.Phone == "" {
		sess.reset()
		return ErrFlowReset
	}

	if firstName == "" {
		return &identity.ValidationError{Field: "first_name", Reason: "required"}
	}
	if lastName == "" {
		return &identity.ValidationError{Field: "last_name", Reason: "required"}
	}
	if email == "" {
		return &identity.ValidationError{Field: "email", Reason: "required"}
	}

	sess.FirstName = firstName
	sess.LastName = lastName
	sess.Email = email
	sess.Phase = PhaseAwaitingPassword
	return nil
}

// SubmitPassword assembles the full candidate record and delegates atomic
// creation to the identity store. A rejected record sends the flow back to
// the profile step so the user can correct it.
func (f *Flow) SubmitPassword(ctx context.Context, sess *Session, password string) (identity.User, error) {
	if sess.Phase != PhaseAwaitingPassword ||
		sess.Phone == "" || sess.FirstName == "" || sess.LastName == "" || sess.Email == "" {
		sess.reset()
		return identity.User{}, ErrFlowReset
	}

	user, err := f.ids.Create(ctx, identity.Record{
		Phone:     sess.Phone,
		FirstName: sess.FirstName,
		LastName:  sess.LastName,
		Email:     sess.Email,
		Password:  password,
	})
	if err != nil {
		var verr *identity.ValidationError
		if errors.As(err, &verr) {
			sess.Phase = PhaseAwaitingProfile
		}
		return identity.User{}, err
	}

	sess.Phase = PhaseCompleted
	f.logger.Info("registration completed", "phone", user.Phone, "user_id", user.ID)
	return user, nil
}
