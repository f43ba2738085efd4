package auth

import (
	"strings"
	"unicode"

	"github.com/samber/oops"
)

const minPasswordLength = 8

const passwordSpecials = "!@#$%^&*(),.?\":{}|<>"

// ValidatePassword enforces the password policy for newly chosen passwords:
// at least eight characters with an upper-case letter, a lower-case letter,
// a digit and a special character.
func ValidatePassword(password string) error {
	var (
		hasUpper, hasLower, hasDigit, hasSpecial bool
		missing                                  []string
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}
	if len([]rune(password)) < minPasswordLength {
		missing = append(missing, "length")
	}
	if !hasUpper {
		missing = append(missing, "uppercase")
	}
	if !hasLower {
		missing = append(missing, "lowercase")
	}
	if !hasDigit {
		missing = append(missing, "digit")
	}
	if !hasSpecial {
		missing = append(missing, "special")
	}
	if len(missing) > 0 {
		return oops.Code(CodeWeakPassword).With("missing", missing).Wrap(ErrWeakPassword)
	}
	return nil
}
