package httpapi

import (
	"net/http"
	"strings"
	"time"

	"studiodesk.app/internal/audit"
	"studiodesk.app/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string        `json:"accessToken"`
	User        auth.UserView `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}

	sess, err := a.gateway.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if auth.IsBusinessError(err) {
			a.audit(r, audit.EventLoginFailed, map[string]any{
				"email_domain": emailDomain(req.Email),
				"client_ip":    a.clientIP(r),
			})
		}
		a.respondError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{UserID: sess.User.ID, Email: sess.User.Email})
	a.audit(r.WithContext(ctx), audit.EventLoginSucceeded, map[string]any{"client_ip": a.clientIP(r)})
	a.writeSession(w, sess)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		a.clearCookies(w)
		writeError(w, r, http.StatusUnauthorized, auth.CodeInvalidRefreshToken, errorMessages[auth.CodeInvalidRefreshToken])
		return
	}
	sess, err := a.gateway.Refresh(r.Context(), c.Value)
	if err != nil {
		if auth.IsBusinessError(err) {
			a.clearCookies(w)
		}
		a.respondError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{UserID: sess.User.ID, Email: sess.User.Email})
	a.audit(r.WithContext(ctx), audit.EventRefreshRotated, nil)
	a.writeSession(w, sess)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		if err := a.gateway.Logout(r.Context(), c.Value); err != nil {
			a.respondError(w, r, err)
			return
		}
		a.audit(r, audit.EventLogout, nil)
	}
	a.clearCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := a.gateway.RequestReset(r.Context(), req.Email); err != nil {
		a.logger.ErrorContext(r.Context(), "password reset request failed", "error", err)
	} else {
		a.audit(r, audit.EventResetRequested, map[string]any{"email_domain": emailDomain(req.Email)})
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "If the email exists, a reset link has been sent"})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidOrExpiredToken, errorMessages[auth.CodeInvalidOrExpiredToken])
		return
	}
	if err := a.gateway.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.audit(r, audit.EventResetCompleted, nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	view, err := a.gateway.Me(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) writeSession(w http.ResponseWriter, sess *auth.Session) {
	now := a.now()
	http.SetCookie(w, a.cookie(refreshCookieName, sess.RefreshToken, sess.RefreshExpiresAt.Sub(now)))
	if a.opts.AccessCookie {
		http.SetCookie(w, a.cookie(accessCookieName, sess.AccessToken, sess.AccessExpiresAt.Sub(now)))
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: sess.AccessToken, User: sess.User})
}

func (a *API) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie(refreshCookieName, "", -1))
	if a.opts.AccessCookie {
		http.SetCookie(w, a.cookie(accessCookieName, "", -1))
	}
}

// cookie builds a session cookie. A negative ttl deletes it.
func (a *API) cookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := -1
	if ttl >= 0 {
		maxAge = int(ttl.Round(time.Second) / time.Second)
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteStrictMode,
	}
}

func emailDomain(email string) string {
	_, domain, ok := strings.Cut(auth.NormalizeEmail(email), "@")
	if !ok {
		return ""
	}
	return domain
}
