// Package notify delivers password reset links.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

const resetSubject = "Reset your password"

var resetBody = template.Must(template.New("reset").Parse(`<h1>Reset Your Password</h1>
<p>Click the link below to reset your password:</p>
<a href="{{.URL}}">Reset Password</a>
<p>This link expires in {{.ValidFor}}.</p>
<p>If you didn't request this, please ignore this email.</p>
`))

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends reset mail through an SMTP relay. It satisfies auth.Notifier.
type SMTP struct {
	cfg  SMTPConfig
	now  func() time.Time
	send sendFunc
}

// NewSMTP validates cfg and returns a notifier.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("mail host is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Wrap(err)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, now: time.Now, send: smtp.SendMail}, nil
}

// SendPasswordReset mails resetURL to email.
func (s *SMTP) SendPasswordReset(ctx context.Context, email, resetURL string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := mail.ParseAddress(email)
	if err != nil {
		return oops.Code("MAIL_RECIPIENT_INVALID").Wrap(err)
	}

	msg, err := s.message(to.Address, resetURL, expiresAt)
	if err != nil {
		return err
	}

	var a smtp.Auth
	if s.cfg.Username != "" {
		a = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, a, s.cfg.From, []string{to.Address}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("host", s.cfg.Host).Wrap(err)
	}
	return nil
}

func (s *SMTP) message(to, resetURL string, expiresAt time.Time) ([]byte, error) {
	var body bytes.Buffer
	err := resetBody.Execute(&body, struct {
		URL      string
		ValidFor string
	}{URL: resetURL, ValidFor: validFor(expiresAt.Sub(s.now()))})
	if err != nil {
		return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", resetSubject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

func validFor(d time.Duration) string {
	switch {
	case d >= 90*time.Minute:
		return strconv.Itoa(int(d.Round(time.Hour)/time.Hour)) + " hours"
	case d > 50*time.Minute:
		return "1 hour"
	case d > time.Minute:
		return strconv.Itoa(int(d.Round(time.Minute)/time.Minute)) + " minutes"
	default:
		return "1 minute"
	}
}

// Log records that a reset was requested without sending anything. The
// link itself is never written.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only notifier for development setups.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// SendPasswordReset implements auth.Notifier.
func (l *Log) SendPasswordReset(ctx context.Context, email, _ string, expiresAt time.Time) error {
	l.logger.InfoContext(ctx, "password reset mail suppressed, no mail host configured",
		"recipient_domain", domainOf(email),
		"expires_at", expiresAt.UTC(),
	)
	return nil
}

func domainOf(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return domain
	}
	return ""
}
