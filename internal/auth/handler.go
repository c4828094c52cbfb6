package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

const maxBodyBytes = 1 << 20

// Handler exposes the /auth endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.LoginStep1(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.LoginStep2(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type resendRequest struct {
	UserID int64 `json:"user_id"`
}

// ResendSMS takes user_id from the JSON body or, failing that, the query.
func (h *Handler) ResendSMS(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid payload", nil)
			return
		}
	}
	if req.UserID == 0 {
		if q := r.URL.Query().Get("user_id"); q != "" {
			if req.UserID, err = strconv.ParseInt(q, 10, 64); err != nil {
				h.writeError(w, http.StatusBadRequest, ErrInvalidInput.Error(), map[string]string{"user_id": "int"})
				return
			}
		}
	}
	msg, err := h.svc.Resend(r.Context(), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) ProtectedData(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "access to protected data granted",
		"user_id": u.ID,
		"email":   u.Email,
		"data":    "your protected data",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, UserFromContext(r.Context()).Profile())
}

// Logout is stateless: tokens stay valid until they expire and the client
// is expected to drop its copy.
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "successfully logged out"})
}

type ctxKey struct{}

// RequireAuth rejects requests without a valid verified bearer token and
// stores the resolved user in the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, http.StatusUnauthorized, ErrUnauthenticated.Error(), nil)
			return
		}
		u, err := h.svc.Authenticate(r.Context(), raw)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

// UserFromContext returns the user set by RequireAuth, or nil.
func UserFromContext(ctx context.Context) *entity.User {
	u, _ := ctx.Value(ctxKey{}).(*entity.User)
	return u
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(auth[len("bearer "):])
	return token, token != ""
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return false
	}
	return true
}

// fail logs err without request secrets and writes the mapped response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("request failed", "path", r.URL.Path, "err", err)
	} else {
		h.logger.Debugw("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		h.writeError(w, status, publicMessage(err), ve.Fields)
		return
	}
	h.writeError(w, status, publicMessage(err), nil)
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	h.writeJSON(w, status, errorBody{Error: msg, Fields: fields})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
