package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

// Repository is the persistence the credential store needs. Lookups that find
// nothing return sql.ErrNoRows; unique violations return
// *entity.DuplicateHandleError.
type Repository interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByPhone(ctx context.Context, phone string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) (bool, error)
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidSecretCode = errors.New("secret code must be exactly 4 decimal digits")
)

// NewUser carries registration input. Secrets are plaintext here and are
// hashed before they reach the repository.
type NewUser struct {
	Email      string
	Phone      string
	Username   string
	SecretCode string
	Password   string
}

// Service is the credential store: users, their handles and the primary factor.
type Service struct {
	repo        Repository
	passwords   Hasher
	secretCodes Hasher
	clock       clockwork.Clock

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires a credential store. Nil hashers and clock get defaults.
func NewService(r Repository, passwords, secretCodes Hasher, clock clockwork.Clock) *Service {
	if passwords == nil {
		passwords = Argon2Hasher{}
	}
	if secretCodes == nil {
		secretCodes = BcryptHasher{Cost: 12}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: r, passwords: passwords, secretCodes: secretCodes, clock: clock}
}

// NormalizeEmail lower-cases and trims an email handle.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSecretCode reports whether s is exactly four ASCII digits.
func IsSecretCode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// CreateUser hashes both secrets and persists the user.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*entity.User, error) {
	if !IsSecretCode(in.SecretCode) {
		return nil, ErrInvalidSecretCode
	}
	codeHash, err := s.secretCodes.Hash(in.SecretCode)
	if err != nil {
		return nil, fmt.Errorf("hash secret code: %w", err)
	}
	pwHash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		Email:          NormalizeEmail(in.Email),
		Phone:          strings.TrimSpace(in.Phone),
		Username:       strings.TrimSpace(in.Username),
		SecretCodeHash: codeHash,
		PasswordHash:   pwHash,
		IsActive:       true,
		Is2FAEnabled:   true,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.find(s.repo.GetByEmail(ctx, NormalizeEmail(email)))
}

func (s *Service) FindByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return s.find(s.repo.GetByPhone(ctx, strings.TrimSpace(phone)))
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return s.find(s.repo.GetByUsername(ctx, strings.TrimSpace(username)))
}

func (s *Service) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return s.find(s.repo.GetByID(ctx, id))
}

func (s *Service) find(u *entity.User, err error) (*entity.User, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// VerifySecretCode checks the primary factor. A nil user is compared against
// a throwaway hash so that unknown handles cost the same as wrong codes.
func (s *Service) VerifySecretCode(u *entity.User, candidate string) bool {
	if u == nil {
		s.dummyOnce.Do(func() { s.dummyHash, _ = s.secretCodes.Hash("0000") })
		s.secretCodes.Verify(s.dummyHash, candidate)
		return false
	}
	return s.secretCodes.Verify(u.SecretCodeHash, candidate)
}

// VerifyPassword checks the stored password hash.
func (s *Service) VerifyPassword(u *entity.User, candidate string) bool {
	return u != nil && s.passwords.Verify(u.PasswordHash, candidate)
}

func (s *Service) TouchLastLogin(ctx context.Context, id int64) error {
	return s.repo.TouchLastLogin(ctx, id, s.clock.Now().UTC())
}

func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) Reactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) error {
	found, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return err
	}
	if !found {
		return ErrUserNotFound
	}
	return nil
}
