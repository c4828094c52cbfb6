package entity

import "time"

// Code is a one-time verification code row in `sms_verification_codes`.
type Code struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	Channel      string    `db:"channel_address"`
	Value        string    `db:"code"`
	CreatedAt    time.Time `db:"created_at"`
	ExpiresAt    time.Time `db:"expires_at"`
	IsUsed       bool      `db:"is_used"`
	AttemptCount int       `db:"attempt_count"`
}

// Live reports whether the code can still be matched at now.
func (c *Code) Live(now time.Time, maxAttempts int) bool {
	return !c.IsUsed && now.Before(c.ExpiresAt) && c.AttemptCount < maxAttempts
}

// Outcome is the result of one verification attempt.
type Outcome int

const (
	NoMatch Outcome = iota
	Match
	Expired
	ExhaustedAttempts
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Expired:
		return "expired"
	case ExhaustedAttempts:
		return "exhausted"
	default:
		return "no_match"
	}
}
