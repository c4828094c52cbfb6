package auth_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

func TestHappyPath(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	if userID != 1 {
		t.Fatalf("user_id = %d, want 1", userID)
	}

	rec := e.verify(t, userID, code)
	expectStatus(t, rec, http.StatusOK)
	sess := decode[auth.Session](t, rec)
	if sess.TokenType != "bearer" || sess.ExpiresIn != 7200 || sess.UserID != userID || sess.AccessToken == "" {
		t.Fatalf("session = %+v", sess)
	}

	for i := 0; i < 3; i++ {
		rec = e.do(t, http.MethodGet, "/auth/protected-data", nil, sess.AccessToken)
		expectStatus(t, rec, http.StatusOK)
	}
	body := decode[map[string]any](t, rec)
	if body["email"] != "a@b.c" || body["user_id"] != float64(userID) {
		t.Errorf("protected payload = %v", body)
	}

	rec = e.do(t, http.MethodGet, "/auth/me", nil, sess.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	if p := decode[entity.Profile](t, rec); p.Username != "alice" || p.Phone != "+70000000001" || !p.Is2FAEnabled {
		t.Errorf("profile = %+v", p)
	}

	// the consumed code cannot be replayed
	expectStatus(t, e.verify(t, userID, code), http.StatusUnauthorized)
}

func TestWrongCodeExhaustsAttempts(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	wrong := otherCode(code)
	for i := 0; i < 3; i++ {
		rec := e.verify(t, userID, wrong)
		expectStatus(t, rec, http.StatusUnauthorized)
		if got := decode[map[string]string](t, rec)["error"]; got != auth.ErrInvalidOrExpiredCode.Error() {
			t.Errorf("error = %q", got)
		}
	}
	expectStatus(t, e.verify(t, userID, code), http.StatusUnauthorized)
	for _, c := range e.codes.All() {
		if c.AttemptCount > 3 {
			t.Errorf("attempt_count = %d", c.AttemptCount)
		}
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	e.clock.Advance(10*time.Minute + time.Second)
	expectStatus(t, e.verify(t, userID, code), http.StatusUnauthorized)
}

func TestCodeRejectedExactlyAtExpiry(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	e.clock.Advance(10 * time.Minute)
	expectStatus(t, e.verify(t, userID, code), http.StatusUnauthorized)
}

func TestDuplicateHandle(t *testing.T) {
	e := newEnv(t)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/register", alice, ""), http.StatusCreated)

	again := map[string]string{}
	for k, v := range alice {
		again[k] = v
	}
	again["email"] = "A@B.C"
	again["phone"] = "+70000000002"
	again["username"] = "alice2"
	rec := e.do(t, http.MethodPost, "/auth/register", again, "")
	expectStatus(t, rec, http.StatusConflict)
	if got := decode[map[string]string](t, rec)["error"]; got != "email already registered" {
		t.Errorf("error = %q", got)
	}
	expectStatus(t, e.do(t, http.MethodPost, "/auth/register", alice, ""), http.StatusConflict)
}

func TestResendThenVerifyOriginal(t *testing.T) {
	e := newEnv(t)
	userID, c1 := e.registerAndLogin(t)

	rec := e.do(t, http.MethodPost, "/auth/resend-sms", map[string]any{"user_id": userID}, "")
	expectStatus(t, rec, http.StatusOK)
	c2 := e.sms.lastCode(t)
	if live := len(e.codes.All()); live != 2 {
		t.Fatalf("codes = %d, want 2", live)
	}

	expectStatus(t, e.verify(t, userID, c1), http.StatusOK)
	// C2 spent one attempt while C1 was matched and is still within budget
	expectStatus(t, e.verify(t, userID, c2), http.StatusOK)
}

func TestResendQueryParameterAndUnknownUser(t *testing.T) {
	e := newEnv(t)
	userID, _ := e.registerAndLogin(t)
	before := e.sms.count()

	expectStatus(t, e.do(t, http.MethodPost, "/auth/resend-sms?user_id=1", nil, ""), http.StatusOK)
	if e.sms.count() != before+1 {
		t.Error("resend via query did not send")
	}
	expectStatus(t, e.do(t, http.MethodPost, "/auth/resend-sms", map[string]any{"user_id": userID + 41}, ""), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/resend-sms", nil, ""), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/resend-sms?user_id=abc", nil, ""), http.StatusBadRequest)
}

func TestForgedTokensRejected(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	expectStatus(t, e.verify(t, userID, code), http.StatusOK)

	forger, _ := token.NewIssuer([]byte(strings.Repeat("k", 32)), "crowdfunding-auth", "crowdfunding-api", e.clock)
	forged, _ := forger.Issue("1", time.Hour, token.Extra{TwoFAVerified: true})
	unverified, _ := e.tokens.Issue("1", time.Hour, token.Extra{TwoFAVerified: false})

	for name, raw := range map[string]string{"other secret": forged, "unverified": unverified, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/auth/protected-data", nil, raw)
			expectStatus(t, rec, http.StatusUnauthorized)
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate")
			}
		})
	}
	expectStatus(t, e.do(t, http.MethodGet, "/auth/protected-data", nil, ""), http.StatusUnauthorized)
}

func TestTokenExpires(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)
	sess := decode[auth.Session](t, e.verify(t, userID, code))

	e.clock.Advance(2*time.Hour - time.Second)
	expectStatus(t, e.do(t, http.MethodGet, "/auth/protected-data", nil, sess.AccessToken), http.StatusOK)
	e.clock.Advance(time.Second)
	expectStatus(t, e.do(t, http.MethodGet, "/auth/protected-data", nil, sess.AccessToken), http.StatusUnauthorized)
}

func TestConcurrentVerifySingleWinner(t *testing.T) {
	e := newEnv(t)
	userID, code := e.registerAndLogin(t)

	const n = 8
	body := fmt.Sprintf(`{"user_id":%d,"sms_code":%q}`, userID, code)
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/verify-2fa", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			e.handler.ServeHTTP(rec, req)
			statuses <- rec.Code
		}()
	}
	wg.Wait()
	close(statuses)
	ok := 0
	for s := range statuses {
		switch s {
		case http.StatusOK:
			ok++
		case http.StatusUnauthorized:
		default:
			t.Errorf("unexpected status %d", s)
		}
	}
	if ok != 1 {
		t.Errorf("successful verifications = %d, want 1", ok)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
	}{
		{"secret code too short", "secret_code", "123"},
		{"secret code too long", "secret_code", "12345"},
		{"secret code not digits", "secret_code", "12a4"},
		{"secret code signed", "secret_code", "+123"},
		{"password too short", "password", "short7!"},
		{"bad email", "email", "not-an-email"},
		{"phone without plus", "phone", "70000000001"},
		{"username too short", "username", "al"},
		{"username short after trim", "username", "  ab  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			req := map[string]string{}
			for k, v := range alice {
				req[k] = v
			}
			req[tt.field] = tt.value
			rec := e.do(t, http.MethodPost, "/auth/register", req, "")
			expectStatus(t, rec, http.StatusBadRequest)
			body := decode[struct {
				Fields map[string]string `json:"fields"`
			}](t, rec)
			if _, ok := body.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %s", body.Fields, tt.field)
			}
		})
	}

	e := newEnv(t)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/register", "{not json", ""), http.StatusBadRequest)
}

func TestLoginUniformFailure(t *testing.T) {
	e := newEnv(t)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/register", alice, ""), http.StatusCreated)

	unknown := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "nobody@b.c", "secret_code": "1234"}, "")
	wrong := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@b.c", "secret_code": "9999"}, "")
	expectStatus(t, unknown, http.StatusUnauthorized)
	expectStatus(t, wrong, http.StatusUnauthorized)
	if unknown.Body.String() != wrong.Body.String() {
		t.Errorf("responses differ: %s vs %s", unknown.Body.String(), wrong.Body.String())
	}
	if e.sms.count() != 0 {
		t.Error("code sent for failed login")
	}

	// email handle is case-insensitive
	expectStatus(t, e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "A@B.C", "secret_code": "1234"}, ""), http.StatusOK)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil, "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("headers = %v", rec.Header())
	}
	expectStatus(t, e.do(t, http.MethodGet, "/nope", nil, ""), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodPost, "/auth/logout", nil, ""), http.StatusOK)
}
