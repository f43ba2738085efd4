package httpapi

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/ratelimit"
)

func TestLogin_SetsSessionCookies(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test", auth.RoleManager)
	c := newTestServer(t, env.deps(), Options{})

	resp, sess := c.login("Owner@Studio.test ", strongPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Equal(t, "owner@studio.test", sess.User.Email)
	assert.Equal(t, []string{auth.RoleManager}, sess.User.Roles)
	assert.Contains(t, sess.User.Permissions, auth.PermSettingsRead)

	refresh := findCookie(resp, refreshCookieName)
	require.NotNil(t, refresh)
	assert.NotEmpty(t, refresh.Value)
	assert.True(t, refresh.HttpOnly)
	assert.False(t, refresh.Secure)
	assert.Equal(t, "/", refresh.Path)
	assert.Equal(t, http.SameSiteStrictMode, refresh.SameSite)
	assert.InDelta(t, int(auth.RefreshTokenTTL/time.Second), refresh.MaxAge, 2)
	assert.Nil(t, findCookie(resp, accessCookieName), "access cookie is opt-in")
}

func TestLogin_AccessCookieInProduction(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test", auth.RoleManager)
	c := newTestServer(t, env.deps(), Options{Production: true, AccessCookie: true})

	resp, _ := c.login("owner@studio.test", strongPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	access := findCookie(resp, accessCookieName)
	require.NotNil(t, access)
	assert.True(t, access.Secure)
	assert.True(t, access.HttpOnly)
	assert.InDelta(t, int(auth.AccessTokenTTL/time.Second), access.MaxAge, 2)
	assert.True(t, findCookie(resp, refreshCookieName).Secure)
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))

	me := c.get("/auth/me", withCookie(access))
	assert.Equal(t, http.StatusOK, me.StatusCode)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test")
	c := newTestServer(t, env.deps(), Options{})

	for _, tc := range []struct{ email, password string }{
		{"owner@studio.test", "Wr0ng-Password!"},
		{"nobody@studio.test", strongPassword},
	} {
		resp, _ := c.login(tc.email, tc.password)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, auth.CodeInvalidCredentials, body.Code)
		assert.Equal(t, "Invalid credentials", body.Error)
		assert.NotEmpty(t, body.RequestID)
		assert.Empty(t, resp.Cookies())
	}
}

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t)
	c := newTestServer(t, env.deps(), Options{})

	for name, body := range map[string]any{
		"empty body":     nil,
		"not json":       "{email:",
		"unknown field":  map[string]any{"email": "a@b.test", "password": "x", "remember": true},
		"missing fields": map[string]any{"email": " "},
	} {
		t.Run(name, func(t *testing.T) {
			resp := c.post("/auth/login", body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, codeValidation, decodeError(t, resp).Code)
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	limiter := ratelimit.NewMemory(2, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })
	deps := env.deps()
	deps.LoginLimiter = limiter
	c := newTestServer(t, deps, Options{})

	for range 2 {
		resp, _ := c.login("nobody@studio.test", strongPassword)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := c.login("nobody@studio.test", strongPassword)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, codeRateLimited, decodeError(t, resp).Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other routes keep their own budget.
	forgot := c.post("/auth/forgot-password", forgotPasswordRequest{Email: "nobody@studio.test"}, nil)
	assert.Equal(t, http.StatusOK, forgot.StatusCode)
}

func TestLogin_RateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	limiter := ratelimit.NewMemory(5, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })
	deps := env.deps()
	deps.LoginLimiter = limiter
	c := newTestServer(t, deps, Options{})

	limited := 0
	for i := range 50 {
		resp := c.post("/auth/login", loginRequest{Email: "nobody@studio.test", Password: strongPassword},
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i)) })
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 45, limited)
}

func TestRefresh_RotatesCookie(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test", auth.RoleTeacher)
	c := newTestServer(t, env.deps(), Options{})

	resp, _ := c.login("owner@studio.test", strongPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := findCookie(resp, refreshCookieName)

	rotated := c.post("/auth/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusOK, rotated.StatusCode)
	var sess sessionResponse
	decodeBody(t, rotated, &sess)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Equal(t, []string{auth.RoleTeacher}, sess.User.Roles)
	second := findCookie(rotated, refreshCookieName)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)

	replay := c.post("/auth/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)
	assert.Equal(t, auth.CodeInvalidRefreshToken, decodeError(t, replay).Code)
	cleared := findCookie(replay, refreshCookieName)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestRefresh_MissingCookie(t *testing.T) {
	env := newTestEnv(t)
	c := newTestServer(t, env.deps(), Options{})

	resp := c.post("/auth/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeInvalidRefreshToken, decodeError(t, resp).Code)
	require.NotNil(t, findCookie(resp, refreshCookieName))
}

func TestLogout_RevokesAndClears(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test")
	c := newTestServer(t, env.deps(), Options{})

	resp, _ := c.login("owner@studio.test", strongPassword)
	refresh := findCookie(resp, refreshCookieName)

	out := c.post("/auth/logout", nil, withCookie(refresh))
	require.Equal(t, http.StatusOK, out.StatusCode)
	var msg messageResponse
	decodeBody(t, out, &msg)
	assert.Equal(t, "Logged out", msg.Message)
	assert.Empty(t, findCookie(out, refreshCookieName).Value)

	again := c.post("/auth/refresh", nil, withCookie(refresh))
	assert.Equal(t, http.StatusUnauthorized, again.StatusCode)

	// Logging out without a session still succeeds.
	anon := c.post("/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, anon.StatusCode)
}

func TestPasswordReset_Flow(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "owner@studio.test")
	c := newTestServer(t, env.deps(), Options{})

	loginResp, _ := c.login("owner@studio.test", strongPassword)
	oldRefresh := findCookie(loginResp, refreshCookieName)

	for _, email := range []string{"nobody@studio.test", "owner@studio.test"} {
		resp := c.post("/auth/forgot-password", forgotPasswordRequest{Email: email}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var msg messageResponse
		decodeBody(t, resp, &msg)
		assert.Equal(t, "If the email exists, a reset link has been sent", msg.Message)
	}
	assert.Equal(t, 1, env.notifier.sent())
	token := env.notifier.token(t, "owner@studio.test")

	weak := c.post("/auth/reset-password", resetPasswordRequest{Token: token, Password: "short"}, nil)
	require.Equal(t, http.StatusBadRequest, weak.StatusCode)
	assert.Equal(t, auth.CodeWeakPassword, decodeError(t, weak).Code)

	ok := c.post("/auth/reset-password", resetPasswordRequest{Token: token, Password: newPassword}, nil)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	var msg messageResponse
	decodeBody(t, ok, &msg)
	assert.Equal(t, "Password reset successfully", msg.Message)

	reused := c.post("/auth/reset-password", resetPasswordRequest{Token: token, Password: newPassword}, nil)
	require.Equal(t, http.StatusBadRequest, reused.StatusCode)
	assert.Equal(t, auth.CodeInvalidOrExpiredToken, decodeError(t, reused).Code)

	stale := c.post("/auth/refresh", nil, withCookie(oldRefresh))
	assert.Equal(t, http.StatusUnauthorized, stale.StatusCode, "reset revokes existing sessions")

	oldLogin, _ := c.login("owner@studio.test", strongPassword)
	assert.Equal(t, http.StatusUnauthorized, oldLogin.StatusCode)
	newLogin, _ := c.login("owner@studio.test", newPassword)
	assert.Equal(t, http.StatusOK, newLogin.StatusCode)
}

func TestResetPassword_BadToken(t *testing.T) {
	env := newTestEnv(t)
	c := newTestServer(t, env.deps(), Options{})

	for _, token := range []string{"", "not-a-token"} {
		resp := c.post("/auth/reset-password", resetPasswordRequest{Token: token, Password: newPassword}, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, auth.CodeInvalidOrExpiredToken, decodeError(t, resp).Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "owner@studio.test", auth.RoleFinancial)
	c := newTestServer(t, env.deps(), Options{})

	anon := c.get("/auth/me", nil)
	require.Equal(t, http.StatusForbidden, anon.StatusCode)
	assert.Equal(t, auth.CodeNotAuthenticated, decodeError(t, anon).Code)

	garbage := c.get("/auth/me", withBearer("not-a-jwt"))
	require.Equal(t, http.StatusForbidden, garbage.StatusCode)
	assert.Equal(t, auth.CodeNotAuthenticated, decodeError(t, garbage).Code)

	_, sess := c.login("owner@studio.test", strongPassword)
	resp := c.get("/auth/me", withBearer(sess.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view auth.UserView
	decodeBody(t, resp, &view)
	assert.Equal(t, user.ID, view.ID)
	assert.Equal(t, []string{auth.RoleFinancial}, view.Roles)
	assert.Contains(t, view.Permissions, auth.PermPaymentsRead)

	require.NoError(t, env.store.SetActive(user.ID, false))
	inactive := c.get("/auth/me", withBearer(sess.AccessToken))
	assert.Equal(t, http.StatusForbidden, inactive.StatusCode)
}

func TestGuard_RejectsDeactivatedUser(t *testing.T) {
	env := newTestEnv(t)
	root := env.addUser(t, "root@studio.test", auth.RoleSuperAdmin)
	c := newTestServer(t, env.deps(), Options{})
	_, sess := c.login("root@studio.test", strongPassword)
	require.NotEmpty(t, sess.AccessToken)

	paths := []string{"/v1/roles", "/v1/permissions", "/v1/users/" + root.ID + "/permissions"}
	for _, path := range paths {
		require.Equal(t, http.StatusOK, c.get(path, withBearer(sess.AccessToken)).StatusCode, path)
	}

	require.NoError(t, env.store.SetActive(root.ID, false))
	for _, path := range paths {
		resp := c.get(path, withBearer(sess.AccessToken))
		require.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		assert.Equal(t, auth.CodeNotAuthenticated, decodeError(t, resp).Code, path)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
