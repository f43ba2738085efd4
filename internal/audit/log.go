// Package audit writes security events as structured log records.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/logging"
)

// Security event names.
const (
	EventLoginSucceeded  = "auth.login.succeeded"
	EventLoginFailed     = "auth.login.failed"
	EventRefreshRotated  = "auth.refresh.rotated"
	EventRefreshReuse    = "auth.refresh.reuse_detected"
	EventLogout          = "auth.logout"
	EventResetRequested  = "auth.reset.requested"
	EventResetCompleted  = "auth.reset.completed"
	EventAuthorizeDenied = "authz.denied"
	EventRateLimited     = "auth.rate_limited"
)

// LogEvent writes an audit record enriched with the caller identity found in
// ctx. Credential-like fields are dropped.
func LogEvent(ctx context.Context, logger *slog.Logger, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if identity := auth.IdentityFromContext(ctx); identity != nil {
		attrs = append(attrs, slog.String("user_id", identity.UserID))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if logging.IsSensitiveKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// Recorder forwards flow outcomes to next and turns refresh token reuse
// into an audit event.
type Recorder struct {
	logger *slog.Logger
	next   auth.Recorder
}

// NewRecorder wraps next, which may be nil.
func NewRecorder(logger *slog.Logger, next auth.Recorder) *Recorder {
	return &Recorder{logger: logger, next: next}
}

// Outcome implements auth.Recorder.
func (r *Recorder) Outcome(flow, outcome string) {
	if r.next != nil {
		r.next.Outcome(flow, outcome)
	}
	if flow == auth.FlowRefresh && outcome == auth.OutcomeReuse {
		_ = LogEvent(context.Background(), r.logger, EventRefreshReuse, nil)
	}
}

// WithRequestID is a shorthand for logging.WithRequestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return logging.WithRequestID(ctx, requestID)
}
