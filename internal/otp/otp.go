// Package otp issues and verifies the 6-digit one-time codes used as the
// second login factor.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth/internal/otp/entity"
)

const (
	CodeLength         = 6
	DefaultMaxAttempts = 3
	DefaultTTL         = 10 * time.Minute
)

// Store persists one-time codes. ConsumeIfMatch must be serializable with
// respect to concurrent calls for the same user.
type Store interface {
	Issue(ctx context.Context, userID int64, channel, value string, ttl time.Duration) (*entity.Code, error)
	FindLive(ctx context.Context, userID int64) ([]entity.Code, error)
	ConsumeIfMatch(ctx context.Context, userID int64, candidate string) (entity.Outcome, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

var codeSpace = big.NewInt(1_000_000)

// Generate returns a uniformly random 6-digit code from crypto/rand.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Decision is what one verification attempt does to a user's unused codes.
type Decision struct {
	Outcome entity.Outcome
	// Attempted holds the ids of live codes whose attempt_count goes up by one.
	Attempted []int64
	// Consumed is the id of the code to mark used, zero when none.
	Consumed int64
}

// Decide evaluates candidate against codes, which must be the user's unused
// codes ordered newest first. Every live code examined spends one attempt;
// the first exact match is consumed and ends the scan.
//
// Without a match the outcome is NoMatch when a live code was examined,
// otherwise ExhaustedAttempts if an unexpired code ran out of attempts,
// otherwise Expired if an expired code exists, otherwise NoMatch.
func Decide(codes []entity.Code, candidate string, now time.Time, maxAttempts int) Decision {
	var d Decision
	var exhausted, expired bool
	for i := range codes {
		c := &codes[i]
		if c.IsUsed {
			continue
		}
		if !c.Live(now, maxAttempts) {
			if now.Before(c.ExpiresAt) {
				exhausted = true
			} else {
				expired = true
			}
			continue
		}
		d.Attempted = append(d.Attempted, c.ID)
		if equal(c.Value, candidate) {
			d.Consumed = c.ID
			d.Outcome = entity.Match
			return d
		}
	}
	switch {
	case len(d.Attempted) > 0:
		d.Outcome = entity.NoMatch
	case exhausted:
		d.Outcome = entity.ExhaustedAttempts
	case expired:
		d.Outcome = entity.Expired
	default:
		d.Outcome = entity.NoMatch
	}
	return d
}

func equal(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Apply mutates codes in place according to d.
func (d Decision) Apply(codes []entity.Code) {
	for i := range codes {
		for _, id := range d.Attempted {
			if codes[i].ID == id {
				codes[i].AttemptCount++
			}
		}
		if d.Consumed != 0 && codes[i].ID == d.Consumed {
			codes[i].IsUsed = true
		}
	}
}
