package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth/internal/user/entity"
)

func newMockRepo(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestCreate(t *testing.T) {
	r, mock := newMockRepo(t)
	u := &entity.User{Email: "a@b.c", Phone: "+70000000001", Username: "alice", SecretCodeHash: "h1", PasswordHash: "h2", IsActive: true, Is2FAEnabled: true, CreatedAt: time.Now()}

	mock.ExpectQuery(qInsertUser).
		WithArgs("a@b.c", "+70000000001", "alice", "h1", "h2", true, true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := r.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 1 || u.ID != 1 {
		t.Errorf("id = %d / %d, want 1", id, u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	tests := []struct {
		constraint string
		handle     string
	}{
		{"users_email_key", entity.HandleEmail},
		{"users_phone_key", entity.HandlePhone},
		{"users_username_key", entity.HandleUsername},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			r, mock := newMockRepo(t)
			mock.ExpectQuery(qInsertUser).
				WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: tt.constraint})

			_, err := r.Create(context.Background(), &entity.User{})
			if !errors.Is(err, entity.ErrDuplicateHandle) {
				t.Fatalf("err = %v, want duplicate", err)
			}
			var dup *entity.DuplicateHandleError
			if !errors.As(err, &dup) || dup.Handle != tt.handle {
				t.Errorf("handle = %+v, want %s", dup, tt.handle)
			}
		})
	}
}

func TestCreateOtherErrorPassesThrough(t *testing.T) {
	r, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(qInsertUser).WillReturnError(boom)

	if _, err := r.Create(context.Background(), &entity.User{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestGetByEmail(t *testing.T) {
	r, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "email", "phone", "username", "secret_code_hash", "password_hash", "is_active", "is_2fa_enabled", "created_at", "last_login"}).
		AddRow(int64(7), "a@b.c", "+70000000001", "alice", "h1", "h2", true, true, created, nil)
	mock.ExpectQuery(qUserByEmail).WithArgs("a@b.c").WillReturnRows(rows)

	u, err := r.GetByEmail(context.Background(), "a@b.c")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u.ID != 7 || u.Username != "alice" || !u.IsActive || u.LastLogin != nil || !u.CreatedAt.Equal(created) {
		t.Errorf("unexpected user %+v", u)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(qUserByID).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)

	if _, err := r.GetByID(context.Background(), 9); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestSetActive(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(qSetActive).WithArgs(int64(1), false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qSetActive).WithArgs(int64(2), false).WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := r.SetActive(context.Background(), 1, false)
	if err != nil || !found {
		t.Fatalf("SetActive(1) = %v, %v", found, err)
	}
	found, err = r.SetActive(context.Background(), 2, false)
	if err != nil || found {
		t.Fatalf("SetActive(2) = %v, %v", found, err)
	}
}

func TestTouchLastLogin(t *testing.T) {
	r, mock := newMockRepo(t)
	at := time.Now().UTC()
	mock.ExpectExec(qTouchLogin).WithArgs(int64(1), at).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.TouchLastLogin(context.Background(), 1, at); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
