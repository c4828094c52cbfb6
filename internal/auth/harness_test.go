package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth/internal/delivery"
	"github.com/ovaphlow/pitchfork/service-auth/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth/internal/otp/otptest"
	"github.com/ovaphlow/pitchfork/service-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user/usertest"
)

var (
	t0     = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	secret = []byte("0123456789abcdef0123456789abcdef")
	codeRe = regexp.MustCompile(`\b\d{6}\b`)
)

type sent struct {
	to   string
	body string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (f *fakeSMS) Send(_ context.Context, phone, body string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{phone, body})
	return !f.fail
}

// lastCode returns the code carried by the most recent SMS.
func (f *fakeSMS) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no sms sent")
	}
	code := codeRe.FindString(f.sent[len(f.sent)-1].body)
	if code == "" {
		t.Fatalf("no code in %q", f.sent[len(f.sent)-1].body)
	}
	return code
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []delivery.Message
	to   []string
	fail bool
}

func (f *fakeEmail) Send(_ context.Context, to string, msg delivery.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.to = append(f.to, to)
	return !f.fail
}

func (f *fakeEmail) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Subject)
	}
	return out
}

type env struct {
	clock   *clockwork.FakeClock
	sms     *fakeSMS
	email   *fakeEmail
	codes   *otptest.MemoryStore
	tokens  *token.Issuer
	svc     *auth.Service
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	users := user.NewService(usertest.NewMemoryRepo(),
		user.Argon2Hasher{Memory: 1024, Time: 1, Threads: 1},
		user.BcryptHasher{Cost: bcrypt.MinCost},
		clock)
	tokens, err := token.NewIssuer(secret, "crowdfunding-auth", "crowdfunding-api", clock)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		clock:  clock,
		sms:    &fakeSMS{},
		email:  &fakeEmail{},
		codes:  otptest.NewMemoryStore(clock, otp.DefaultMaxAttempts),
		tokens: tokens,
	}
	lg := zap.NewNop().Sugar()
	e.svc = auth.NewService(auth.Deps{
		Users:     users,
		Codes:     e.codes,
		Tokens:    tokens,
		SMS:       e.sms,
		Email:     e.email,
		Templates: delivery.Templates{AppName: "CrowdPlatform"},
		Logger:    lg,
		CodeTTL:   otp.DefaultTTL,
		TokenTTL:  2 * time.Hour,
	})
	t.Cleanup(e.svc.Wait)
	e.handler = router.RegisterRoutes(lg, router.Options{Auth: auth.NewHandler(e.svc, lg), AllowedOrigins: []string{"*"}})
	return e
}

func (e *env) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
}

var alice = map[string]string{
	"email":       "a@b.c",
	"phone":       "+70000000001",
	"username":    "alice",
	"secret_code": "1234",
	"password":    "hunter2hunter",
}

// registerAndLogin runs registration and step one and returns the user id
// and the code that was sent.
func (e *env) registerAndLogin(t *testing.T) (int64, string) {
	t.Helper()
	expectStatus(t, e.do(t, http.MethodPost, "/auth/register", alice, ""), http.StatusCreated)
	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@b.c", "secret_code": "1234"}, "")
	expectStatus(t, rec, http.StatusOK)
	ch := decode[auth.Challenge](t, rec)
	return ch.UserID, e.sms.lastCode(t)
}

func (e *env) verify(t *testing.T, userID int64, code string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/auth/verify-2fa", map[string]any{"user_id": userID, "sms_code": code}, "")
}

// otherCode returns a well-formed code different from code.
func otherCode(code string) string {
	b := []byte(code)
	b[5] = '0' + (b[5]-'0'+1)%10
	return string(b)
}
