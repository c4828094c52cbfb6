// Package token issues and validates the HS256 bearer tokens handed out after
// both login factors have been checked.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MinSecretLength is the shortest signing secret NewIssuer accepts.
const MinSecretLength = 32

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotVerified wraps ErrInvalidToken.
	ErrNotVerified = fmt.Errorf("%w: identity not verified", ErrInvalidToken)
	ErrShortSecret = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
)

// Timestamps keep millisecond precision so a token expires at issue time plus
// ttl rather than at the whole second before it.
func init() {
	jwt.TimePrecision = time.Millisecond
}

// Claims is the token payload. TwoFAVerified is the verified-identity flag.
type Claims struct {
	TwoFAVerified bool   `json:"2fa_verified"`
	Email         string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Extra holds the non-registered claims set by the caller.
type Extra struct {
	TwoFAVerified bool
	Email         string
}

// Issuer signs and validates tokens with one symmetric secret.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	clock    clockwork.Clock
	parser   *jwt.Parser
}

func NewIssuer(secret []byte, issuer, audience string, clock clockwork.Clock) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{
		secret:   append([]byte(nil), secret...),
		issuer:   issuer,
		audience: audience,
		clock:    clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock.Now),
		),
	}, nil
}

// Issue returns a compact signed token for subject valid for ttl.
func (i *Issuer) Issue(subject string, ttl time.Duration, extra Extra) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}
	now := i.clock.Now()
	claims := Claims{
		TwoFAVerified: extra.TwoFAVerified,
		Email:         extra.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm, issuer, audience and expiry, and
// rejects tokens without the verified-identity flag. A token is invalid from
// its expiry instant onward.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	var claims Claims
	tok, err := i.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.TwoFAVerified {
		return nil, ErrNotVerified
	}
	return &claims, nil
}
