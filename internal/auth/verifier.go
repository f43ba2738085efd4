package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// CredentialVerifier checks an email and password against the directory.
type CredentialVerifier struct {
	directory UserDirectory
	hasher    PasswordHasher
	logger    *slog.Logger
}

// NewCredentialVerifier creates a verifier.
func NewCredentialVerifier(directory UserDirectory, hasher PasswordHasher, logger *slog.Logger) *CredentialVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVerifier{directory: directory, hasher: hasher, logger: logger}
}

// Verify returns the active user matching email and password. Unknown email,
// inactive account and wrong password all fail with the same
// ErrInvalidCredentials, and all three run one hash verification.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		v.burn(password)
		return nil, invalidCredentials()
	}

	user, err := v.directory.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.burn(password)
			return nil, invalidCredentials()
		}
		return nil, oops.Code("CREDENTIALS_LOOKUP_FAILED").Wrap(err)
	}
	if !user.IsActive {
		v.burn(password)
		return nil, invalidCredentials()
	}

	ok, err := v.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		v.logger.ErrorContext(ctx, "stored password hash is unreadable",
			"user_id", user.ID,
			"error", err,
		)
		return nil, invalidCredentials()
	}
	if !ok {
		return nil, invalidCredentials()
	}
	return user, nil
}

func (v *CredentialVerifier) burn(password string) {
	_, _ = v.hasher.Verify(password, dummyPasswordHash)
}
