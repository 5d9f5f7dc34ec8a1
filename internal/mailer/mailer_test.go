package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

func init() {
	logger.Discard()
}

type recorder struct {
	to, subject, body string
	err               error
}

func (r *recorder) Send(_ context.Context, to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

func TestWelcomeBody(t *testing.T) {
	u := models.NewUser("<Nour>", "nour@example.com", "x", models.Features{AIRequests: 50}, time.Now())
	body, err := WelcomeBody(u)
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;Nour&gt;")
	assert.Contains(t, body, "<strong>free</strong>")
	assert.Contains(t, body, "50 AI requests")

	u.Subscription.Plan = models.PlanEnterprise
	body, err = WelcomeBody(u)
	require.NoError(t, err)
	assert.Contains(t, body, "unlimited AI requests")
}

func TestSendWelcome(t *testing.T) {
	u := models.NewUser("Nour", "nour@example.com", "x", models.Features{AIRequests: 50}, time.Now())

	r := &recorder{}
	SendWelcome(context.Background(), r, u)
	assert.Equal(t, "nour@example.com", r.to)
	assert.Equal(t, "Welcome to AI Agency", r.subject)
	assert.Contains(t, r.body, "Welcome, Nour!")

	assert.NotPanics(t, func() {
		SendWelcome(context.Background(), &recorder{err: errors.New("relay down")}, u)
	})
}

func TestNewPicksSender(t *testing.T) {
	assert.IsType(t, Log{}, New(config.EmailConfig{}))
	assert.IsType(t, &SMTP{}, New(config.EmailConfig{Host: "smtp.example.com", Port: 587}))
	assert.NoError(t, Log{}.Send(context.Background(), "a@b.c", "hi", "<p>hi</p>"))
}
