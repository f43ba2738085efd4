package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/errutil"
)

var (
	_ auth.Notifier = (*SMTP)(nil)
	_ auth.Notifier = (*Log)(nil)
)

type captured struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestSMTP(t *testing.T, cfg SMTPConfig, sendErr error) (*SMTP, *captured) {
	t.Helper()
	n, err := NewSMTP(cfg)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	c := &captured{}
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.auth, c.from, c.to, c.msg = addr, a, from, to, string(msg)
		return sendErr
	}
	return n, c
}

func TestSMTP_SendPasswordReset(t *testing.T) {
	n, c := newTestSMTP(t, SMTPConfig{Host: "smtp.example.com", Username: "mailer", Password: "pw", From: "Studio <no-reply@studio.test>"}, nil)
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := n.SendPasswordReset(context.Background(), "ada@studio.test", "https://app.example.com/reset-password?token=abc%2Bdef", expires)
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", c.addr)
	assert.NotNil(t, c.auth)
	assert.Equal(t, []string{"ada@studio.test"}, c.to)
	assert.Contains(t, c.msg, "Subject: Reset your password\r\n")
	assert.Contains(t, c.msg, "To: ada@studio.test\r\n")
	assert.Contains(t, c.msg, `href="https://app.example.com/reset-password?token=abc%2Bdef"`)
	assert.Contains(t, c.msg, "expires in 1 hour.")
}

func TestSMTP_Errors(t *testing.T) {
	t.Run("header injection in recipient", func(t *testing.T) {
		n, c := newTestSMTP(t, SMTPConfig{Host: "smtp.example.com", From: "no-reply@studio.test"}, nil)
		err := n.SendPasswordReset(context.Background(), "ada@studio.test\r\nBcc: eve@evil.test", "https://x", time.Now())
		errutil.AssertErrorCode(t, err, "MAIL_RECIPIENT_INVALID")
		assert.Empty(t, c.msg)
	})

	t.Run("relay failure", func(t *testing.T) {
		n, _ := newTestSMTP(t, SMTPConfig{Host: "smtp.example.com", Port: 25, From: "no-reply@studio.test"}, errors.New("421 try later"))
		err := n.SendPasswordReset(context.Background(), "ada@studio.test", "https://x", time.Now())
		errutil.AssertErrorCode(t, err, "MAIL_SEND_FAILED")
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewSMTP(SMTPConfig{From: "no-reply@studio.test"})
		errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")
		_, err = NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "not an address"})
		errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")
	})
}

func TestValidFor(t *testing.T) {
	assert.Equal(t, "1 hour", validFor(time.Hour))
	assert.Equal(t, "2 hours", validFor(2*time.Hour))
	assert.Equal(t, "15 minutes", validFor(15*time.Minute))
	assert.Equal(t, "1 minute", validFor(0))
}

func TestLog_NeverWritesLink(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.SendPasswordReset(context.Background(), "ada@studio.test", "https://app/reset-password?token=SECRET", time.Now()))
	assert.NotContains(t, buf.String(), "SECRET")
	assert.NotContains(t, buf.String(), "ada@")
	assert.Contains(t, buf.String(), "studio.test")
}
