package signup

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/phonegate/phonegate/internal/auth"
	"github.com/phonegate/phonegate/internal/cache"
	"github.com/phonegate/phonegate/internal/config"
	"github.com/phonegate/phonegate/internal/logging"
	"github.com/phonegate/phonegate/internal/session"
)

// wrongCode returns a code that is guaranteed not to match the last
// dispatched one.
func wrongCode(t *testing.T, e *env) string {
	t.Helper()
	if e.sender.lastCode(t) == "999999" {
		return "999998"
	}
	return "999999"
}

func newTestApp(t *testing.T) (*fiber.App, *env) {
	t.Helper()
	e := newTestEnv(t)

	clock := func() time.Time { return *e.now }
	sessions := session.NewManager(cache.NewMemoryStore(clock), 30*time.Minute)

	cfg := config.Config{
		PhoneRegion:     "IR",
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	tokens := auth.NewService(cfg, e.ids, e.repo, e.ledger, logging.Discard())

	h := NewHandler(e.flow, sessions, tokens)

	app := fiber.New()
	group := app.Group("/signup")
	group.Post("/phone", h.SubmitPhone)
	group.Post("/otp", h.SubmitOTP)
	group.Post("/profile", h.SubmitProfile)
	group.Post("/password", h.SubmitPassword)

	return app, e
}

type testClient struct {
	t      *testing.T
	app    *fiber.App
	cookie string
}

func (c *testClient) post(path, body string) (*http.Response, map[string]any) {
	c.t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.cookie != "" {
		req.Header.Set(fiber.HeaderCookie, sessionCookie+"="+c.cookie)
	}

	resp, err := c.app.Test(req)
	if err != nil {
		c.t.Fatalf("app.Test %s: %v", path, err)
	}

	for _, sc := range resp.Header.Values(fiber.HeaderSetCookie) {
		if strings.HasPrefix(sc, sessionCookie+"=") {
			value := strings.TrimPrefix(strings.SplitN(sc, ";", 2)[0], sessionCookie+"=")
			c.cookie = value
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestSignupEndpointsHappyPath(t *testing.T) {
	app, e := newTestApp(t)
	client := &testClient{t: t, app: app}

	resp, body := client.post("/signup/phone", `{"phone":"09120000000"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("phone step: expected 200, got %d", resp.StatusCode)
	}
	if body["next"] != "otp" {
		t.Fatalf("expected next=otp, got %v", body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected challenge token in response")
	}

	code := e.sender.lastCode(t)
	resp, body = client.post("/signup/otp", `{"phone":"`+testPhone+`","token":"`+token+`","code":"`+code+`"}`)
	if resp.StatusCode != http.StatusOK || body["next"] != "profile" {
		t.Fatalf("otp step: expected 200 next=profile, got %d %v", resp.StatusCode, body)
	}

	resp, body = client.post("/signup/profile", `{"first_name":"Sara","last_name":"Ahmadi","email":"sara@example.com"}`)
	if resp.StatusCode != http.StatusOK || body["next"] != "password" {
		t.Fatalf("profile step: expected 200 next=password, got %d %v", resp.StatusCode, body)
	}

	resp, body = client.post("/signup/password", `{"password":"correct horse"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("password step: expected 201, got %d %v", resp.StatusCode, body)
	}
	if access, _ := body["access_token"].(string); access == "" {
		t.Fatalf("expected access token in response, got %v", body)
	}
	if body["phone"] != testPhone {
		t.Fatalf("expected phone %s in response, got %v", testPhone, body)
	}
}

func TestSignupOTPMismatchKeepsToken(t *testing.T) {
	app, e := newTestApp(t)
	client := &testClient{t: t, app: app}

	_, body := client.post("/signup/phone", `{"phone":"`+testPhone+`"}`)
	token, _ := body["token"].(string)

	resp, body := client.post("/signup/otp", `{"phone":"`+testPhone+`","token":"`+token+`","code":"`+wrongCode(t, e)+`"}`)
	if resp.StatusCode == http.StatusOK && body["next"] == "profile" {
		t.Fatalf("a guessed code must not advance the flow")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatch, got %d", resp.StatusCode)
	}
	if body["token"] != token {
		t.Fatalf("expected the same token re-presented, got %v", body["token"])
	}
}

func TestSignupLockoutSurfacesAsTooManyRequests(t *testing.T) {
	app, e := newTestApp(t)
	client := &testClient{t: t, app: app}

	_, body := client.post("/signup/phone", `{"phone":"`+testPhone+`"}`)
	token, _ := body["token"].(string)

	var resp *http.Response
	wrong := wrongCode(t, e)
	for i := 0; i < testThreshold; i++ {
		resp, _ = client.post("/signup/otp", `{"phone":"`+testPhone+`","token":"`+token+`","code":"`+wrong+`"}`)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d failures, got %d", testThreshold, resp.StatusCode)
	}

	// Restarting the flow stays blocked until the window elapses.
	resp, _ = client.post("/signup/phone", `{"phone":"`+testPhone+`"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on restart, got %d", resp.StatusCode)
	}

	*e.now = e.now.Add(61 * time.Minute)
	resp, _ = client.post("/signup/phone", `{"phone":"`+testPhone+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after ban lapsed, got %d", resp.StatusCode)
	}
}

func TestSignupProfileWithoutSessionConflicts(t *testing.T) {
	app, _ := newTestApp(t)
	client := &testClient{t: t, app: app}

	resp, _ := client.post("/signup/profile", `{"first_name":"Sara","last_name":"Ahmadi","email":"sara@example.com"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-order step, got %d", resp.StatusCode)
	}
}
