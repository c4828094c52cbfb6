// Package otptest provides an in-memory one-time code store for tests.
package otptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-auth/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth/internal/otp/entity"
)

// MemoryStore serializes every call under one mutex and uses the same
// decision function as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	maxAttempts int
	nextID      int64
	codes       []entity.Code
}

var _ otp.Store = (*MemoryStore)(nil)

func NewMemoryStore(clock clockwork.Clock, maxAttempts int) *MemoryStore {
	return &MemoryStore{clock: clock, maxAttempts: maxAttempts}
}

func (s *MemoryStore) Issue(_ context.Context, userID int64, channel, value string, ttl time.Duration) (*entity.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	s.nextID++
	c := entity.Code{ID: s.nextID, UserID: userID, Channel: channel, Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	s.codes = append(s.codes, c)
	return &c, nil
}

// newest first, like ORDER BY created_at DESC, id DESC
func (s *MemoryStore) unused(userID int64) []entity.Code {
	var out []entity.Code
	for _, c := range s.codes {
		if c.UserID == userID && !c.IsUsed {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) FindLive(_ context.Context, userID int64) ([]entity.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var live []entity.Code
	for _, c := range s.unused(userID) {
		if c.Live(now, s.maxAttempts) {
			live = append(live, c)
		}
	}
	return live, nil
}

func (s *MemoryStore) ConsumeIfMatch(_ context.Context, userID int64, candidate string) (entity.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := otp.Decide(s.unused(userID), candidate, s.clock.Now(), s.maxAttempts)
	d.Apply(s.codes)
	return d.Outcome, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	var n int64
	for _, c := range s.codes {
		if c.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.codes = kept
	return n, nil
}

// All returns a copy of every stored code, in insertion order.
func (s *MemoryStore) All() []entity.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Code(nil), s.codes...)
}
