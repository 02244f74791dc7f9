package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

const minPasswordLen = 8

// HashPassword bcrypt-hashes a plaintext password.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "hash password")
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ValidatePasswordStrength rejects passwords that are too short or lack
// letter/digit variety.
func ValidatePasswordStrength(plaintext string) error {
	if len(plaintext) < minPasswordLen {
		return apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}
	var hasLetter, hasDigit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperr.New(apperr.KindValidation, "password must contain both letters and digits")
	}
	return nil
}
