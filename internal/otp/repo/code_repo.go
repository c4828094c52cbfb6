package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth/internal/otp/entity"
)

// NOTE: users(id) must exist before EnsureTable runs (foreign key).
const ddlCodes = `
CREATE TABLE IF NOT EXISTS sms_verification_codes (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  channel_address TEXT NOT NULL,
  code VARCHAR(6) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  is_used BOOLEAN NOT NULL DEFAULT false,
  attempt_count INT NOT NULL DEFAULT 0,
  CONSTRAINT sms_codes_expiry_after_issue CHECK (expires_at > created_at),
  CONSTRAINT sms_codes_attempts_nonneg CHECK (attempt_count >= 0)
);
CREATE INDEX IF NOT EXISTS idx_sms_codes_live ON sms_verification_codes (user_id, is_used, expires_at);
`

const (
	codeColumns = `id, user_id, channel_address, code, created_at, expires_at, is_used, attempt_count`

	qInsertCode = `INSERT INTO sms_verification_codes (user_id, channel_address, code, created_at, expires_at, is_used, attempt_count)
		VALUES ($1, $2, $3, $4, $5, false, 0) RETURNING id`
	qLiveCodes = `SELECT ` + codeColumns + ` FROM sms_verification_codes
		WHERE user_id = $1 AND is_used = false AND expires_at > $2 AND attempt_count < $3
		ORDER BY created_at DESC, id DESC`
	qLockUnused = `SELECT ` + codeColumns + ` FROM sms_verification_codes
		WHERE user_id = $1 AND is_used = false
		ORDER BY created_at DESC, id DESC FOR UPDATE`
	qSpendAttempts = `UPDATE sms_verification_codes SET attempt_count = attempt_count + 1 WHERE id = ANY($1) AND attempt_count < $2`
	qMarkUsed      = `UPDATE sms_verification_codes SET is_used = true WHERE id = $1 AND is_used = false`
	qSweepExpired  = `DELETE FROM sms_verification_codes WHERE expires_at < $1`
)

// CodeRepo is the Postgres one-time code store.
type CodeRepo struct {
	db          *sqlx.DB
	clock       clockwork.Clock
	maxAttempts int
}

var _ otp.Store = (*CodeRepo)(nil)

func NewCodeRepo(db *sqlx.DB, clock clockwork.Clock, maxAttempts int) *CodeRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAttempts < 1 {
		maxAttempts = otp.DefaultMaxAttempts
	}
	return &CodeRepo{db: db, clock: clock, maxAttempts: maxAttempts}
}

// EnsureTable creates the codes table and its live-code index (idempotent).
func (r *CodeRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ddlCodes)
	return err
}

// Issue stores a new live code. Earlier live codes of the user are kept.
func (r *CodeRepo) Issue(ctx context.Context, userID int64, channel, value string, ttl time.Duration) (*entity.Code, error) {
	now := r.clock.Now().UTC()
	c := &entity.Code{
		UserID:    userID,
		Channel:   channel,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := r.db.QueryRowxContext(ctx, qInsertCode, c.UserID, c.Channel, c.Value, c.CreatedAt, c.ExpiresAt).Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("insert code: %w", err)
	}
	return c, nil
}

// FindLive returns the user's live codes, newest first.
func (r *CodeRepo) FindLive(ctx context.Context, userID int64) ([]entity.Code, error) {
	var codes []entity.Code
	if err := r.db.SelectContext(ctx, &codes, qLiveCodes, userID, r.clock.Now().UTC(), r.maxAttempts); err != nil {
		return nil, err
	}
	return codes, nil
}

// ConsumeIfMatch runs one verification attempt inside a transaction. The
// user's unused rows are locked FOR UPDATE, so a concurrent attempt waits and
// then re-reads them; after a Match it no longer sees the consumed row.
func (r *CodeRepo) ConsumeIfMatch(ctx context.Context, userID int64, candidate string) (entity.Outcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return entity.NoMatch, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var codes []entity.Code
	if err := tx.SelectContext(ctx, &codes, qLockUnused, userID); err != nil {
		return entity.NoMatch, fmt.Errorf("lock codes: %w", err)
	}
	d := otp.Decide(codes, candidate, r.clock.Now(), r.maxAttempts)
	if len(d.Attempted) > 0 {
		if _, err := tx.ExecContext(ctx, qSpendAttempts, pq.Array(d.Attempted), r.maxAttempts); err != nil {
			return entity.NoMatch, fmt.Errorf("spend attempts: %w", err)
		}
	}
	if d.Consumed != 0 {
		if _, err := tx.ExecContext(ctx, qMarkUsed, d.Consumed); err != nil {
			return entity.NoMatch, fmt.Errorf("mark used: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return entity.NoMatch, fmt.Errorf("commit: %w", err)
	}
	return d.Outcome, nil
}

// SweepExpired deletes codes that expired before now and returns how many.
func (r *CodeRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, qSweepExpired, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
