package auth_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"studiodesk.app/internal/auth"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err      error
		code     string
		business bool
	}{
		{nil, "", false},
		{auth.ErrInvalidCredentials, auth.CodeInvalidCredentials, true},
		{oops.Code("X").Wrap(auth.ErrInvalidRefreshToken), auth.CodeInvalidRefreshToken, true},
		{fmt.Errorf("wrapped: %w", auth.ErrInvalidOrExpiredToken), auth.CodeInvalidOrExpiredToken, true},
		{auth.ErrWeakPassword, auth.CodeWeakPassword, true},
		{auth.ErrNotAuthenticated, auth.CodeNotAuthenticated, true},
		{auth.ErrInsufficientPermissions, auth.CodeInsufficientPermissions, true},
		{auth.ErrConfiguration, auth.CodeConfiguration, true},
		{auth.ErrNotFound, auth.CodeInternal, false},
		{errors.New("boom"), auth.CodeInternal, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, auth.ErrorCode(tt.err), "%v", tt.err)
		assert.Equal(t, tt.business, auth.IsBusinessError(tt.err), "%v", tt.err)
	}
}
