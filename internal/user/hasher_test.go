package user

import (
	"strings"
	"testing"
)

func TestArgon2RoundTrip(t *testing.T) {
	h := Argon2Hasher{Memory: 1024, Time: 1, Threads: 1}
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("unexpected encoding %q", hash)
	}
	if !h.Verify(hash, "correct horse") {
		t.Error("verify failed for correct secret")
	}
	if h.Verify(hash, "correct horsE") {
		t.Error("verify succeeded for wrong secret")
	}
	// params are read from the hash, not from the hasher
	if !(Argon2Hasher{}).Verify(hash, "correct horse") {
		t.Error("verify should use encoded params")
	}
}

func TestArgon2RejectsMalformed(t *testing.T) {
	h := Argon2Hasher{}
	for _, bad := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=18$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=1,t=1,p=1$!!$AA"} {
		if h.Verify(bad, "x") {
			t.Errorf("accepted %q", bad)
		}
	}
}

func TestIsSecretCode(t *testing.T) {
	tests := map[string]bool{"1234": true, "0000": true, "123": false, "12345": false, "12a4": false, "+123": false}
	for in, want := range tests {
		if got := IsSecretCode(in); got != want {
			t.Errorf("IsSecretCode(%q) = %v", in, got)
		}
	}
}
