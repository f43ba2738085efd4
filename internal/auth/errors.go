package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Stable error codes exposed to clients and attached to oops errors.
const (
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken     = "INVALID_REFRESH_TOKEN"
	CodeInvalidOrExpiredToken   = "INVALID_OR_EXPIRED_TOKEN"
	CodeWeakPassword            = "WEAK_PASSWORD"
	CodeNotAuthenticated        = "NOT_AUTHENTICATED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeConfiguration           = "CONFIG_INVALID"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeHashFormat              = "HASH_FORMAT"
	CodeInternal                = "INTERNAL"
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyExists  = errors.New("auth: already exists")
	ErrRecordConsumed = errors.New("auth: record already revoked or used")

	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidRefreshToken     = errors.New("invalid refresh token")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired token")
	ErrWeakPassword            = errors.New("password does not meet the password policy")
	ErrNotAuthenticated        = errors.New("user not authenticated")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrConfiguration           = errors.New("invalid configuration")

	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrHashFormat   = errors.New("malformed password hash")
)

// ErrorCode maps an error to the stable code clients see. Anything outside the
// taxonomy is reported as INTERNAL.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrInvalidRefreshToken):
		return CodeInvalidRefreshToken
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return CodeInvalidOrExpiredToken
	case errors.Is(err, ErrWeakPassword):
		return CodeWeakPassword
	case errors.Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, ErrInsufficientPermissions):
		return CodeInsufficientPermissions
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	default:
		return CodeInternal
	}
}

// IsBusinessError reports whether err is an expected outcome of the
// taxonomy rather than an unexpected fault.
func IsBusinessError(err error) bool {
	code := ErrorCode(err)
	return code != "" && code != CodeInternal
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

func invalidRefreshToken(reason string) error {
	return oops.Code(CodeInvalidRefreshToken).With("reason", reason).Wrap(ErrInvalidRefreshToken)
}

func invalidResetToken(reason string) error {
	return oops.Code(CodeInvalidOrExpiredToken).With("reason", reason).Wrap(ErrInvalidOrExpiredToken)
}
