// Package httpapi exposes the identity core over HTTP and gRPC.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/samber/oops"

	"studiodesk.app/internal/audit"
	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/ratelimit"
)

// ReadinessChecker reports whether dependencies such as the database answer.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// PingFunc adapts a ping function to ReadinessChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the collaborators served by the API.
type Deps struct {
	Gateway  *auth.Gateway
	Gate     *auth.PermissionGate
	Resolver *auth.PermissionResolver
	Catalog  auth.Catalog
	Ready    ReadinessChecker
	Metrics  *obs.Metrics
	Logger   *slog.Logger

	// LoginLimiter throttles login and forgot-password per client IP.
	LoginLimiter ratelimit.Limiter
}

// Options tune HTTP behavior.
type Options struct {
	ServiceName    string
	Version        string
	Production     bool
	AccessCookie   bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	// TrustedProxies lists the peers whose X-Forwarded-For header is used
	// to identify the client. Empty means the header is ignored.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	gateway  *auth.Gateway
	gate     *auth.PermissionGate
	resolver *auth.PermissionResolver
	catalog  auth.Catalog
	ready    ReadinessChecker
	metrics  *obs.Metrics
	logger   *slog.Logger
	limiter  ratelimit.Limiter
	opts     Options
	now      func() time.Time
}

// New builds the API and registers every route of the route table.
func New(deps Deps, opts Options) (*API, error) {
	if deps.Gateway == nil || deps.Gate == nil || deps.Resolver == nil || deps.Catalog == nil {
		return nil, oops.Code(auth.CodeConfiguration).
			Wrap(errors.Join(auth.ErrConfiguration, errors.New("http api dependency missing")))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ready == nil {
		deps.Ready = PingFunc(nil)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "studiodesk-api"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		mux:      http.NewServeMux(),
		gateway:  deps.Gateway,
		gate:     deps.Gate,
		resolver: deps.Resolver,
		catalog:  deps.Catalog,
		ready:    deps.Ready,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		limiter:  deps.LoginLimiter,
		opts:     opts,
		now:      time.Now,
	}
	a.registerRoutes()
	return a, nil
}

// Handler returns the mux wrapped in the middleware stack.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	if a.metrics != nil {
		h = a.metrics.Instrument(h)
	}
	return chain(h,
		RequestID,
		Logging(a.logger),
		SecurityHeaders(a.opts.Production),
		CORS(a.opts.AllowedOrigins),
		MaxBodyBytes(a.opts.MaxBodyBytes),
	)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.opts.ServiceName,
		"version": a.opts.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    a.opts.ServiceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func (a *API) metricsHandler() http.Handler {
	if a.metrics == nil {
		return http.NotFoundHandler()
	}
	return a.metrics.Handler()
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), a.logger, event, fields); err != nil {
		a.logger.WarnContext(r.Context(), "audit event dropped", "event", event, "error", err)
	}
}
