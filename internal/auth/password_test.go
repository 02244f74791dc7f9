package auth

import (
	"testing"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse9")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct-horse9") {
		t.Error("expected CheckPassword to accept the original plaintext")
	}
	if CheckPassword(hash, "wrong-password9") {
		t.Error("expected CheckPassword to reject a different plaintext")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		name    string
		pw      string
		wantErr bool
	}{
		{"too short", "ab1", true},
		{"letters only", "abcdefgh", true},
		{"digits only", "12345678", true},
		{"letters and digits", "abcd1234", false},
		{"long mixed", "Sup3rSecretPassw0rd", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePasswordStrength(c.pw)
			if c.wantErr && err == nil {
				t.Fatalf("expected an error for %q, got nil", c.pw)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("expected no error for %q, got %v", c.pw, err)
			}
			if err != nil && apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("expected KindValidation, got %v", apperr.KindOf(err))
			}
		})
	}
}
