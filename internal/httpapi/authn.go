package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"studiodesk.app/internal/audit"
	"studiodesk.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "

	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// guard authenticates the caller and asks the permission gate for required.
// A missing or invalid token, or one whose user is gone or inactive, is
// NOT_AUTHENTICATED; missing permissions are INSUFFICIENT_PERMISSIONS. Both
// answer 403.
func (a *API) guard(required []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.identify(r)
		if err != nil {
			if auth.IsBusinessError(err) {
				a.audit(r, audit.EventAuthorizeDenied, map[string]any{
					"path":   r.URL.Path,
					"reason": auth.ErrorCode(err),
				})
			}
			a.respondError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), identity)
		r = r.WithContext(ctx)

		if err := a.gate.Authorize(ctx, identity, required); err != nil {
			if auth.IsBusinessError(err) {
				a.audit(r, audit.EventAuthorizeDenied, map[string]any{
					"path":     r.URL.Path,
					"reason":   auth.ErrorCode(err),
					"required": required,
				})
			}
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identify reads the access token from the Authorization header, falling
// back to the access token cookie.
func (a *API) identify(r *http.Request) (*auth.Identity, error) {
	token, ok := bearerToken(r.Header.Get(authHeader))
	if !ok {
		if c, err := r.Cookie(accessCookieName); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		return nil, errors.Join(auth.ErrNotAuthenticated, errors.New("access token missing"))
	}
	return a.gateway.Authenticate(r.Context(), token)
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}
