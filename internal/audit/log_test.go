package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/logging"
)

type outcomes map[string]int

func (o outcomes) Outcome(flow, outcome string) { o[flow+"/"+outcome]++ }

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("svc", "dev", "json", slog.LevelInfo, &buf)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithIdentity(ctx, &auth.Identity{UserID: "user-42", Roles: []string{auth.RoleAdmin}})

	require.NoError(t, LogEvent(ctx, logger, EventLoginSucceeded, map[string]any{
		"email":         "a@example.com",
		"refresh_token": "eyJ...",
	}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, EventLoginSucceeded, entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-42", entry["user_id"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok, "fields missing: %v", entry)
	assert.Equal(t, "a@example.com", fields["email"])
	assert.NotContains(t, fields, "refresh_token")
	assert.NotContains(t, buf.String(), "eyJ")
}

func TestLogEvent_RequiresName(t *testing.T) {
	assert.Error(t, LogEvent(context.Background(), nil, "  ", nil))
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("svc", "dev", "json", slog.LevelInfo, &buf)
	next := outcomes{}
	r := NewRecorder(logger, next)

	r.Outcome(auth.FlowLogin, auth.OutcomeSuccess)
	assert.Zero(t, buf.Len())

	r.Outcome(auth.FlowRefresh, auth.OutcomeReuse)
	assert.Contains(t, buf.String(), EventRefreshReuse)
	assert.Equal(t, 1, next[auth.FlowLogin+"/"+auth.OutcomeSuccess])
	assert.Equal(t, 1, next[auth.FlowRefresh+"/"+auth.OutcomeReuse])
}
