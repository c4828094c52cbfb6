package entity

import "time"

// User represents an account row in the `users` table.
// SecretCodeHash and PasswordHash never hold plaintext.
type User struct {
	ID             int64      `db:"id"`
	Email          string     `db:"email"`
	Phone          string     `db:"phone"`
	Username       string     `db:"username"`
	SecretCodeHash string     `db:"secret_code_hash"`
	PasswordHash   string     `db:"password_hash"`
	IsActive       bool       `db:"is_active"`
	Is2FAEnabled   bool       `db:"is_2fa_enabled"`
	CreatedAt      time.Time  `db:"created_at"`
	LastLogin      *time.Time `db:"last_login"`
}

// Profile is the public projection returned by /auth/me.
type Profile struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Username     string `json:"username"`
	Is2FAEnabled bool   `json:"is_2fa_enabled"`
}

func (u *User) Profile() Profile {
	return Profile{UserID: u.ID, Email: u.Email, Phone: u.Phone, Username: u.Username, Is2FAEnabled: u.Is2FAEnabled}
}
