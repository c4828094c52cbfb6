// Package usertest provides an in-memory user repository for tests.
package usertest

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

// MemoryRepo mirrors the users table constraints: email is unique
// case-insensitively, phone and username exactly.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]entity.User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[int64]entity.User)}
}

func (r *MemoryRepo) Create(_ context.Context, u *entity.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.users {
		switch {
		case strings.EqualFold(ex.Email, u.Email):
			return 0, &entity.DuplicateHandleError{Handle: entity.HandleEmail}
		case ex.Phone == u.Phone:
			return 0, &entity.DuplicateHandleError{Handle: entity.HandlePhone}
		case ex.Username == u.Username:
			return 0, &entity.DuplicateHandleError{Handle: entity.HandleUsername}
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.users[u.ID] = *u
	return u.ID, nil
}

func (r *MemoryRepo) match(pred func(entity.User) bool) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if pred(u) {
			cp := u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	return r.match(func(u entity.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *MemoryRepo) GetByPhone(_ context.Context, phone string) (*entity.User, error) {
	return r.match(func(u entity.User) bool { return u.Phone == phone })
}

func (r *MemoryRepo) GetByUsername(_ context.Context, username string) (*entity.User, error) {
	return r.match(func(u entity.User) bool { return u.Username == username })
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*entity.User, error) {
	return r.match(func(u entity.User) bool { return u.ID == id })
}

func (r *MemoryRepo) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.LastLogin = &at
		r.users[id] = u
	}
	return nil
}

func (r *MemoryRepo) SetActive(_ context.Context, id int64, active bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	u.IsActive = active
	r.users[id] = u
	return true, nil
}
