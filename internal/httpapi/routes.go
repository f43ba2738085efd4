package httpapi

import (
	"net/http"
	"strings"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/ratelimit"
)

// route is one entry of the route table. Authenticated routes resolve the
// caller from the access token before the handler runs; Permissions are
// checked by the permission gate on top of that.
type route struct {
	method        string
	pattern       string
	authenticated bool
	permissions   []string
	limiter       ratelimit.Limiter
	handler       http.HandlerFunc
}

func (a *API) routes() []route {
	return []route{
		{method: http.MethodPost, pattern: "/auth/login", limiter: a.limiter, handler: a.login},
		{method: http.MethodPost, pattern: "/auth/refresh", handler: a.refresh},
		{method: http.MethodPost, pattern: "/auth/logout", handler: a.logout},
		{method: http.MethodPost, pattern: "/auth/forgot-password", limiter: a.limiter, handler: a.forgotPassword},
		{method: http.MethodPost, pattern: "/auth/reset-password", handler: a.resetPassword},
		{method: http.MethodGet, pattern: "/auth/me", authenticated: true, handler: a.me},

		{method: http.MethodGet, pattern: "/v1/roles", authenticated: true,
			permissions: []string{auth.PermSettingsRead}, handler: a.listRoles},
		{method: http.MethodGet, pattern: "/v1/permissions", authenticated: true,
			permissions: []string{auth.PermSettingsRead}, handler: a.listPermissions},
		{method: http.MethodGet, pattern: "/v1/users/{id}/permissions", authenticated: true,
			permissions: []string{auth.PermUsersRead}, handler: a.userPermissions},

		{method: http.MethodGet, pattern: "/healthz", handler: a.healthz},
		{method: http.MethodGet, pattern: "/readyz", handler: a.readyz},
		{method: http.MethodGet, pattern: "/v1/info", handler: a.info},
		{method: http.MethodGet, pattern: "/metrics", handler: a.metricsHandler().ServeHTTP},
	}
}

func (a *API) registerRoutes() {
	allowed := make(map[string][]string)
	var patterns []string
	for _, rt := range a.routes() {
		var h http.Handler = rt.handler
		if rt.authenticated {
			h = a.guard(rt.permissions, h)
		}
		h = a.rateLimited(rt.pattern, rt.limiter, h)
		a.mux.Handle(rt.method+" "+rt.pattern, h)
		if _, seen := allowed[rt.pattern]; !seen {
			patterns = append(patterns, rt.pattern)
		}
		allowed[rt.pattern] = append(allowed[rt.pattern], rt.method)
	}
	// Known paths hit with another method answer 405 instead of falling
	// through to the catch-all.
	for _, pattern := range patterns {
		allow := strings.Join(allowed[pattern], ", ")
		a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Allow", allow)
			methodNotAllowed(w, r)
		})
	}
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	})
}
