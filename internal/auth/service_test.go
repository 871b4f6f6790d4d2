package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phonegate/phonegate/internal/cache"
	"github.com/phonegate/phonegate/internal/config"
	"github.com/phonegate/phonegate/internal/identity"
	"github.com/phonegate/phonegate/internal/lockout"
	"github.com/phonegate/phonegate/internal/logging"
)

const (
	testPhone    = "+989120000000"
	testPassword = "correct horse"
	testAddr     = "203.0.113.7"

	testThreshold = 3
	testWindow    = 60 * time.Minute
)

func testConfig() config.Config {
	return config.Config{
		PhoneRegion:     "IR",
		BanThreshold:    testThreshold,
		BanWindow:       testWindow,
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
}

func newTestService(t *testing.T) (*Service, *lockout.Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo)
	ledger := lockout.NewLedger(cache.NewMemoryStore(clock), testThreshold, testWindow, clock)
	svc := NewService(testConfig(), ids, repo, ledger, logging.Discard())

	if _, err := ids.Create(context.Background(), identity.Record{
		Phone: testPhone, FirstName: "Sara", LastName: "Ahmadi",
		Email: "sara@example.com", Password: testPassword,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	return svc, ledger, &now
}

func TestLoginSucceedsAndIssuesTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, pair, err := svc.Login(ctx, testPhone, testPassword, testAddr)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Phone != testPhone {
		t.Fatalf("unexpected user %+v", user)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.ExpiresIn <= 0 {
		t.Fatalf("unexpected token pair %+v", pair)
	}
}

func TestLoginAcceptsNationalFormat(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, _, err := svc.Login(context.Background(), "09120000000", testPassword, testAddr); err != nil {
		t.Fatalf("login with national format: %v", err)
	}
}

func TestWrongPasswordFailuresBanTheAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var lerr *lockout.LockedOutError
	var err error
	for i := 0; i < testThreshold; i++ {
		_, _, err = svc.Login(ctx, testPhone, "wrong password", testAddr)
	}
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LockedOutError on attempt %d, got %v", testThreshold, err)
	}
	if lerr.Remaining != testWindow {
		t.Fatalf("expected remaining %s, got %s", testWindow, lerr.Remaining)
	}

	// Even the correct password is rejected while the ban holds, without
	// consuming an attempt.
	if _, _, err := svc.Login(ctx, testPhone, testPassword, testAddr); !errors.As(err, &lerr) {
		t.Fatalf("expected LockedOutError with correct password, got %v", err)
	}
}

func TestSuccessfulLoginClearsAttemptCounter(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < testThreshold-1; i++ {
		if _, _, err := svc.Login(ctx, testPhone, "wrong password", "198.51.100.1"); !errors.Is(err, identity.ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}

	if _, _, err := svc.Login(ctx, testPhone, testPassword, "198.51.100.2"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if remaining, _ := ledger.RemainingBan(ctx, testPhone); remaining != 0 {
		t.Fatalf("expected cleared ledger, got remaining %s", remaining)
	}

	// The counter restarted: the next failures begin a fresh cycle.
	_, _, err := svc.Login(ctx, testPhone, "wrong password", "198.51.100.3")
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after reset, got %v", err)
	}
}

func TestMalformedSubmissionsBanTheAddress(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Different bogus identifiers, same source address: the address
	// dimension accumulates independently.
	var err error
	for _, bogus := range []string{"garbage-1", "garbage-2", "garbage-3"} {
		_, _, err = svc.Login(ctx, bogus, "whatever", testAddr)
	}
	var lerr *lockout.LockedOutError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LockedOutError after %d malformed submissions, got %v", testThreshold, err)
	}

	// Any account from that address is now blocked.
	if _, _, err := svc.Login(ctx, testPhone, testPassword, testAddr); !errors.As(err, &lerr) {
		t.Fatalf("expected address ban to block valid credentials, got %v", err)
	}

	// The same account from a clean address still works.
	if _, _, err := svc.Login(ctx, testPhone, testPassword, "198.51.100.9"); err != nil {
		t.Fatalf("expected clean address to pass, got %v", err)
	}
}

func TestBanLapsesAfterWindow(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	for i := 0; i < testThreshold; i++ {
		svc.Login(ctx, testPhone, "wrong password", testAddr)
	}
	var lerr *lockout.LockedOutError
	if _, _, err := svc.Login(ctx, testPhone, testPassword, testAddr); !errors.As(err, &lerr) {
		t.Fatalf("expected ban, got %v", err)
	}

	*now = now.Add(61 * time.Minute)

	if _, _, err := svc.Login(ctx, testPhone, testPassword, testAddr); err != nil {
		t.Fatalf("expected login after window elapsed, got %v", err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, pair, err := svc.Login(ctx, testPhone, testPassword, testAddr)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	access, expiresIn, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" || expiresIn <= 0 {
		t.Fatalf("unexpected refresh result %q %d", access, expiresIn)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Fatalf("expected refresh to fail after logout")
	}
}
