// Package auth is the two-step login policy: registration, primary factor
// check, one-time code challenge, second factor verification and bearer
// token authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth/internal/audit"
	"github.com/ovaphlow/pitchfork/service-auth/internal/delivery"
	"github.com/ovaphlow/pitchfork/service-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth/internal/otp"
	otpentity "github.com/ovaphlow/pitchfork/service-auth/internal/otp/entity"
	"github.com/ovaphlow/pitchfork/service-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

const (
	TokenTypeBearer = "bearer"

	msgRegistered  = "user registered"
	msgInstruction = "sign in with your email and secret code"
	msgCodeSent    = "verification code sent to your phone"
	msgCodeResent  = "new verification code sent"
)

// Deps are the collaborators of the policy engine. Audit may be nil.
type Deps struct {
	Users     *user.Service
	Codes     otp.Store
	Tokens    *token.Issuer
	SMS       delivery.SMSSender
	Email     delivery.EmailSender
	Templates delivery.Templates
	Audit     audit.Publisher
	Logger    *zap.SugaredLogger

	CodeTTL  time.Duration
	TokenTTL time.Duration
}

type Service struct {
	Deps
	validate *validator.Validate
	// background welcome emails
	wg sync.WaitGroup
}

func NewService(d Deps) *Service {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.CodeTTL <= 0 {
		d.CodeTTL = otp.DefaultTTL
	}
	return &Service{Deps: d, validate: newValidator()}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Phone      string `json:"phone" validate:"required,e164"`
	Username   string `json:"username" validate:"required,min=3,max=64"`
	SecretCode string `json:"secret_code" validate:"required,len=4,number"`
	Password   string `json:"password" validate:"required,min=8,max=256"`
}

type RegisterResult struct {
	UserID      int64  `json:"user_id"`
	Message     string `json:"message"`
	Instruction string `json:"instruction"`
}

// Register creates a user with both secrets hashed and queues a welcome email.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	// length rules apply to the handles as stored
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.check(req); err != nil {
		metrics.TrackAuthAttempt(false, "register")
		return nil, err
	}
	u, err := s.Users.CreateUser(ctx, user.NewUser{
		Email:      req.Email,
		Phone:      req.Phone,
		Username:   req.Username,
		SecretCode: req.SecretCode,
		Password:   req.Password,
	})
	if err != nil {
		metrics.TrackAuthAttempt(false, "register")
		var dup *entity.DuplicateHandleError
		switch {
		case errors.As(err, &dup):
			return nil, duplicateErr(dup.Handle)
		case errors.Is(err, user.ErrInvalidSecretCode):
			return nil, &ValidationError{Fields: map[string]string{"secret_code": "len"}}
		default:
			return nil, storageErr("create user", err)
		}
	}
	metrics.TrackAuthAttempt(true, "register")
	s.Audit.Publish(ctx, audit.Event{Type: audit.UserRegistered, UserID: u.ID})
	s.Logger.Infow("user registered", "user_id", u.ID)

	s.wg.Add(1)
	go func(ctx context.Context, to, username string) {
		defer s.wg.Done()
		s.sendWelcome(ctx, to, username)
	}(context.WithoutCancel(ctx), u.Email, u.Username)

	return &RegisterResult{UserID: u.ID, Message: msgRegistered, Instruction: msgInstruction}, nil
}

func (s *Service) sendWelcome(ctx context.Context, to, username string) {
	msg, err := s.Templates.WelcomeEmail(username)
	if err != nil {
		s.Logger.Errorw("welcome email render failed", "err", err)
		return
	}
	if !s.Email.Send(ctx, to, msg) {
		metrics.TrackDeliveryFailure(delivery.ChannelEmail)
	}
}

// Wait blocks until queued background emails have been attempted.
func (s *Service) Wait() {
	s.wg.Wait()
}

type LoginRequest struct {
	Email      string `json:"email" validate:"required"`
	SecretCode string `json:"secret_code" validate:"required"`
}

type Challenge struct {
	Requires2FA bool   `json:"requires_2fa"`
	UserID      int64  `json:"user_id"`
	Message     string `json:"message"`
}

// LoginStep1 checks email and secret code and, on success, sends a fresh
// one-time code. Unknown email, wrong code and inactive account all return
// ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) LoginStep1(ctx context.Context, req LoginRequest) (*Challenge, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	u, err := s.Users.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		s.Users.VerifySecretCode(nil, req.SecretCode)
		return nil, s.rejectLogin(ctx, 0, "unknown_user")
	case err != nil:
		return nil, storageErr("find user", err)
	}
	if !s.Users.VerifySecretCode(u, req.SecretCode) {
		return nil, s.rejectLogin(ctx, u.ID, "bad_secret_code")
	}
	if !u.IsActive {
		return nil, s.rejectLogin(ctx, u.ID, "inactive")
	}
	if err := s.challenge(ctx, u); err != nil {
		return nil, err
	}
	metrics.TrackAuthAttempt(true, "login")
	s.Audit.Publish(ctx, audit.Event{Type: audit.LoginChallenged, UserID: u.ID})
	return &Challenge{Requires2FA: true, UserID: u.ID, Message: msgCodeSent}, nil
}

func (s *Service) rejectLogin(ctx context.Context, userID int64, reason string) error {
	metrics.TrackAuthAttempt(false, "login")
	s.Audit.Publish(ctx, audit.Event{Type: audit.LoginRejected, UserID: userID, Detail: reason})
	s.Logger.Infow("login rejected", "user_id", userID, "reason", reason)
	return ErrInvalidCredentials
}

// challenge commits a new code and then sends it over SMS and email in
// parallel. Send failures leave the code valid and are not returned.
func (s *Service) challenge(ctx context.Context, u *entity.User) error {
	value, err := otp.Generate()
	if err != nil {
		return err
	}
	if _, err := s.Codes.Issue(ctx, u.ID, u.Phone, value, s.CodeTTL); err != nil {
		return storageErr("issue code", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if !s.SMS.Send(ctx, u.Phone, delivery.SMSCodeBody(value)) {
			metrics.TrackDeliveryFailure(delivery.ChannelSMS)
			return errors.New("sms not delivered")
		}
		return nil
	})
	g.Go(func() error {
		msg, err := s.Templates.VerificationEmail(u.Username, value, s.CodeTTL)
		if err != nil {
			return err
		}
		if !s.Email.Send(ctx, u.Email, msg) {
			metrics.TrackDeliveryFailure(delivery.ChannelEmail)
			return errors.New("email not delivered")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.Logger.Warnw("code delivery incomplete, code stays valid", "user_id", u.ID, "err", err)
	}
	return nil
}

type VerifyRequest struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	SMSCode string `json:"sms_code" validate:"required,len=6,number"`
}

type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      int64  `json:"user_id"`
}

// LoginStep2 consumes the one-time code and issues a verified bearer token.
// Wrong, expired and exhausted codes are indistinguishable to the caller.
func (s *Service) LoginStep2(ctx context.Context, req VerifyRequest) (*Session, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	outcome, err := s.Codes.ConsumeIfMatch(ctx, req.UserID, req.SMSCode)
	if err != nil {
		return nil, storageErr("consume code", err)
	}
	if outcome != otpentity.Match {
		return nil, s.rejectCode(ctx, req.UserID, outcome.String())
	}

	u, err := s.Users.FindByID(ctx, req.UserID)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		return nil, s.rejectCode(ctx, req.UserID, "unknown_user")
	case err != nil:
		return nil, storageErr("find user", err)
	case !u.IsActive:
		return nil, s.rejectCode(ctx, u.ID, "inactive")
	}
	if err := s.Users.TouchLastLogin(ctx, u.ID); err != nil {
		return nil, storageErr("touch last login", err)
	}
	raw, err := s.Tokens.Issue(strconv.FormatInt(u.ID, 10), s.TokenTTL, token.Extra{TwoFAVerified: true, Email: u.Email})
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.Inc()
	metrics.TrackAuthAttempt(true, "verify_2fa")
	s.Audit.Publish(ctx, audit.Event{Type: audit.SecondFactorOK, UserID: u.ID})
	return &Session{
		AccessToken: raw,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.TokenTTL / time.Second),
		UserID:      u.ID,
	}, nil
}

func (s *Service) rejectCode(ctx context.Context, userID int64, reason string) error {
	metrics.TrackAuthAttempt(false, "verify_2fa")
	s.Audit.Publish(ctx, audit.Event{Type: audit.SecondFactorFail, UserID: userID, Detail: reason})
	s.Logger.Infow("second factor rejected", "user_id", userID, "reason", reason)
	return ErrInvalidOrExpiredCode
}

// Resend issues and sends another code. Earlier codes stay live.
func (s *Service) Resend(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", &ValidationError{Fields: map[string]string{"user_id": "required"}}
	}
	u, err := s.Users.FindByID(ctx, userID)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		metrics.TrackAuthAttempt(false, "resend")
		return "", ErrUserNotFound
	case err != nil:
		return "", storageErr("find user", err)
	case !u.IsActive:
		metrics.TrackAuthAttempt(false, "resend")
		return "", ErrUserNotFound
	}
	if err := s.challenge(ctx, u); err != nil {
		return "", err
	}
	metrics.TrackAuthAttempt(true, "resend")
	s.Audit.Publish(ctx, audit.Event{Type: audit.CodeResent, UserID: u.ID})
	return msgCodeResent, nil
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, raw string) (*entity.User, error) {
	claims, err := s.Tokens.Validate(raw)
	if err != nil {
		metrics.TrackAuthAttempt(false, "protected")
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		metrics.TrackAuthAttempt(false, "protected")
		return nil, ErrUnauthenticated
	}
	u, err := s.Users.FindByID(ctx, id)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		metrics.TrackAuthAttempt(false, "protected")
		return nil, ErrUnauthenticated
	case err != nil:
		return nil, storageErr("find user", err)
	case !u.IsActive:
		metrics.TrackAuthAttempt(false, "protected")
		return nil, ErrUnauthenticated
	}
	return u, nil
}

// Deactivate blocks login and token use for the user until Reactivate.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	return s.setActive(ctx, userID, false)
}

func (s *Service) Reactivate(ctx context.Context, userID int64) error {
	return s.setActive(ctx, userID, true)
}

func (s *Service) setActive(ctx context.Context, userID int64, active bool) error {
	var err error
	event := audit.UserReactivated
	if active {
		err = s.Users.Reactivate(ctx, userID)
	} else {
		err = s.Users.Deactivate(ctx, userID)
		event = audit.UserDeactivated
	}
	if errors.Is(err, user.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return storageErr("set active", err)
	}
	s.Audit.Publish(ctx, audit.Event{Type: event, UserID: userID})
	return nil
}

// SweepExpired deletes expired codes.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Codes.SweepExpired(ctx, now)
	if err != nil {
		return 0, storageErr("sweep codes", err)
	}
	return n, nil
}
