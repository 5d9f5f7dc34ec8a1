// Package mailer sends account emails over SMTP.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTP delivers mail through the configured relay.
type SMTP struct {
	from   string
	dialer *gomail.Dialer
}

func NewSMTP(cfg config.EmailConfig) *SMTP {
	return &SMTP{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

func (s *SMTP) Send(_ context.Context, to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Log only records what would have been sent. It is used when no SMTP host
// is configured.
type Log struct{}

func (Log) Send(ctx context.Context, to, subject, _ string) error {
	logger.FromContext(ctx).Info("email not sent, smtp disabled", "to", to, "subject", subject)
	return nil
}

func New(cfg config.EmailConfig) Sender {
	if cfg.Host == "" {
		return Log{}
	}
	return NewSMTP(cfg)
}

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body>
  <h2>Welcome, {{.Name}}!</h2>
  <p>Your account is ready. You are on the <strong>{{.Plan}}</strong> plan with {{.Requests}} AI requests this month.</p>
</body>
</html>`))

// WelcomeBody renders the email sent after registration.
func WelcomeBody(u *models.User) (string, error) {
	requests := fmt.Sprint(u.Subscription.Features.AIRequests)
	if u.Subscription.Unlimited() {
		requests = "unlimited"
	}

	var buf bytes.Buffer
	err := welcomeTmpl.Execute(&buf, struct {
		Name, Plan, Requests string
	}{u.Name, string(u.Subscription.Plan), requests})
	if err != nil {
		return "", fmt.Errorf("failed to render welcome email: %w", err)
	}
	return buf.String(), nil
}

// SendWelcome mails the welcome message. Failures are logged, never
// returned, so registration does not depend on the mail relay.
func SendWelcome(ctx context.Context, s Sender, u *models.User) {
	body, err := WelcomeBody(u)
	if err == nil {
		err = s.Send(ctx, u.Email, "Welcome to AI Agency", body)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("welcome email failed", "user_id", u.ID, "error", err)
	}
}
