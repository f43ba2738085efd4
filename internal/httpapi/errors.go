package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/errutil"
	"studiodesk.app/internal/logging"
)

// Codes used by the HTTP layer in addition to the auth taxonomy.
const (
	codeValidation  = "VALIDATION_FAILED"
	codeRateLimited = "RATE_LIMITED"
	codeNotFound    = "NOT_FOUND"
	codeMethod      = "METHOD_NOT_ALLOWED"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

var errorMessages = map[string]string{
	auth.CodeInvalidCredentials:      "Invalid credentials",
	auth.CodeInvalidRefreshToken:     "Invalid refresh token",
	auth.CodeInvalidOrExpiredToken:   "Invalid or expired token",
	auth.CodeWeakPassword:            "Password does not meet the password policy",
	auth.CodeNotAuthenticated:        "User not authenticated",
	auth.CodeInsufficientPermissions: "Insufficient permissions",
	auth.CodeInternal:                "Internal server error",
}

func statusFor(code string) int {
	switch code {
	case auth.CodeInvalidCredentials, auth.CodeInvalidRefreshToken:
		return http.StatusUnauthorized
	case auth.CodeInvalidOrExpiredToken, auth.CodeWeakPassword:
		return http.StatusBadRequest
	case auth.CodeNotAuthenticated, auth.CodeInsufficientPermissions:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

// respondError maps err onto the stable taxonomy. Anything outside it is
// logged with its oops context and answered with a bare 500.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	if code == auth.CodeInternal {
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}
	writeError(w, r, statusFor(code), code, errorMessages[code])
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeMethod, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("request body is not valid JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
