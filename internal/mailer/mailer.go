// Package mailer delivers one-time codes and account notices by email.
package mailer

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
)

// Sender is what the account flows need from outgoing mail.
type Sender interface {
	SendCode(ctx context.Context, to string, purpose entity.Purpose, code string, validFor time.Duration) error
	SendWelcome(ctx context.Context, to, firstName string) error
}

var subjects = map[entity.Purpose]string{
	entity.PurposeVerificationEmail: "Confirm your email address",
	entity.PurposePasswordReset:     "Password reset request",
	entity.PurposeEmailChange:       "Confirm your new email address",
	entity.PurposeAccountDelete:     "Confirm account deletion",
}

var intros = map[entity.Purpose]string{
	entity.PurposeVerificationEmail: "Thanks for registering. Enter this code to activate your account:",
	entity.PurposePasswordReset:     "We received a request to reset your password. Use this code to continue:",
	entity.PurposeEmailChange:       "Use this code to confirm this address for your account:",
	entity.PurposeAccountDelete:     "You asked to delete your account. This code confirms the request:",
}

// SMTPSender sends through an SMTP relay with gomail.
type SMTPSender struct {
	from   string
	send   func(m *gomail.Message) error
	logger *zap.SugaredLogger
}

func NewSMTPSender(cfg config.SMTP, logger *zap.SugaredLogger) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return &SMTPSender{from: cfg.From, send: func(m *gomail.Message) error { return d.DialAndSend(m) }, logger: logger}
}

func (s *SMTPSender) message(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	return m
}

func (s *SMTPSender) SendCode(ctx context.Context, to string, purpose entity.Purpose, code string, validFor time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, ok := subjects[purpose]
	if !ok {
		return fmt.Errorf("no template for purpose %s", purpose)
	}
	body := fmt.Sprintf(`
		<p>%s</p>
		<h2 style="letter-spacing:4px">%s</h2>
		<p>The code expires in %d minutes. If you did not ask for it, ignore this email.</p>
	`, intros[purpose], html.EscapeString(code), int(validFor.Minutes()))

	if err := s.send(s.message(to, subject, body)); err != nil {
		return fmt.Errorf("send %s email: %w", purpose, err)
	}
	s.logger.Infow("mail sent", "purpose", purpose, "to", to)
	return nil
}

func (s *SMTPSender) SendWelcome(ctx context.Context, to, firstName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := fmt.Sprintf(`
		<h2>Welcome, %s!</h2>
		<p>Your account is active. See you at the fair.</p>
	`, html.EscapeString(firstName))
	if err := s.send(s.message(to, "Welcome", body)); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	return nil
}

// NoopSender stands in when SMTP is not configured. Codes are only visible at debug level.
type NoopSender struct {
	logger *zap.SugaredLogger
}

func NewNoopSender(logger *zap.SugaredLogger) *NoopSender { return &NoopSender{logger: logger} }

func (n *NoopSender) SendCode(_ context.Context, to string, purpose entity.Purpose, code string, _ time.Duration) error {
	n.logger.Infow("mail disabled, code not sent", "purpose", purpose, "to", to)
	n.logger.Debugw("undelivered code", "purpose", purpose, "to", to, "code", code)
	return nil
}

func (n *NoopSender) SendWelcome(_ context.Context, to, _ string) error {
	n.logger.Infow("mail disabled, welcome not sent", "to", to)
	return nil
}

// New picks the SMTP sender when a host is configured.
func New(cfg config.SMTP, logger *zap.SugaredLogger) Sender {
	if cfg.Enabled() {
		return NewSMTPSender(cfg, logger)
	}
	return NewNoopSender(logger)
}
