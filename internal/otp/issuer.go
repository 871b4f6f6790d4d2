package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/phonegate/phonegate/internal/cache"
	"github.com/phonegate/phonegate/internal/notification"
)

const (
	// codeSpace bounds the 6-digit numeric code, 000000 through 999999.
	codeSpace = 1_000_000

	// tokenBytes yields a 27-character URL-safe token (160 bits), the
	// lookup key a client must echo back to prove it started the flow.
	tokenBytes = 20
)

// Challenge pairs an opaque token with the code stored under it. The code
// leaves the process only through the SMS sender; handlers expose the token
// alone.
type Challenge struct {
	Token string
	Code  string
}

// Issuer mints one-time codes, stores them in the TTL cache keyed by an
// unguessable token, and dispatches them out of band. Keying by token rather
// than phone number means a client cannot fetch a code for an identifier it
// already controls.
type Issuer struct {
	store  cache.Store
	sender notification.Sender
	ttl    time.Duration
}

// NewIssuer builds an issuer whose challenges expire after ttl.
func NewIssuer(store cache.Store, sender notification.Sender, ttl time.Duration) *Issuer {
	return &Issuer{store: store, sender: sender, ttl: ttl}
}

// Issue generates and stores a fresh challenge and sends the code to
// destination. Delivery is fire-and-forget; a gateway failure does not fail
// the issue.
func (i *Issuer) Issue(ctx context.Context, destination string) (Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate code: %w", err)
	}
	token, err := generateToken()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate token: %w", err)
	}

	if err := i.store.Set(ctx, token, code, i.ttl); err != nil {
		return Challenge{}, err
	}

	_ = i.sender.Send(ctx, notification.Message{
		Destination: destination,
		Body:        fmt.Sprintf("Your verification code is %s", code),
	})

	return Challenge{Token: token, Code: code}, nil
}

// Verify reports whether supplied matches the code stored for token. An
// unknown or expired token verifies false. A mismatch leaves the challenge
// in place; the caller decides when a challenge is spent.
func (i *Issuer) Verify(ctx context.Context, token, supplied string) (bool, error) {
	stored, ok, err := i.store.Get(ctx, token)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1, nil
}

// Invalidate consumes the challenge. Called after a successful match.
func (i *Issuer) Invalidate(ctx context.Context, token string) error {
	return i.store.Delete(ctx, token)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
