package user

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher is a one-way hashing scheme for a user secret.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) bool
}

// BcryptHasher is used for the 4-digit secret code.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(secret string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify compares in constant time.
func (b BcryptHasher) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Argon2Hasher is the memory-hard scheme used for passwords. Hashes are
// encoded as $argon2id$v=19$m=<kb>,t=<iter>,p=<threads>$<salt>$<key>.
type Argon2Hasher struct {
	Memory  uint32
	Time    uint32
	Threads uint8
}

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

var errInvalidArgon2Hash = errors.New("invalid argon2 hash")

func (a Argon2Hasher) params() (uint32, uint32, uint8) {
	m, t, p := a.Memory, a.Time, a.Threads
	if m == 0 {
		m = 64 * 1024
	}
	if t == 0 {
		t = 3
	}
	if p == 0 {
		p = 2
	}
	return m, t, p
}

func (a Argon2Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	m, t, p := a.params()
	key := argon2.IDKey([]byte(secret), salt, t, m, p, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, m, t, p,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (a Argon2Hasher) Verify(hash, secret string) bool {
	m, t, p, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(secret), salt, t, m, p, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1
}

func decodeArgon2(hash string) (m, t uint32, p uint8, salt, key []byte, err error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errInvalidArgon2Hash
	}
	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errInvalidArgon2Hash
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return 0, 0, 0, nil, nil, errInvalidArgon2Hash
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return 0, 0, 0, nil, nil, errInvalidArgon2Hash
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, errInvalidArgon2Hash
	}
	return m, t, p, salt, key, nil
}
