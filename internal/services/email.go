package services

import (
	"context"
	"fmt"
	"infohub/internal/config"
	"infohub/internal/logger"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type EmailService struct {
	auth    smtp.Auth
	from    string
	host    string
	port    string
	subject string
}

func NewEmailService(cfg *config.Config) *EmailService {
	auth := smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	return &EmailService{
		auth:    auth,
		from:    cfg.MailFrom,
		host:    cfg.SMTPHost,
		port:    cfg.SMTPPort,
		subject: cfg.MailSubject,
	}
}

func (s *EmailService) Send(to []string, subject, body string) error {
	msg := []byte("Subject: " + subject + "\r\n" +
		"From: " + s.from + "\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n" +
		body)

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, s.auth, s.from, to, msg)
}

// SendPasswordReset отправляет письмо со ссылкой для сброса пароля.
func (s *EmailService) SendPasswordReset(_ context.Context, to, displayName, resetLink string, ttlMinutes int) error {
	return s.Send([]string{to}, s.subject, buildResetEmailBody(displayName, resetLink, ttlMinutes))
}

func buildResetEmailBody(displayName, resetLink string, ttlMinutes int) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf(
		"Hello, %s!\n\n"+
			"We received a request to reset your password.\n"+
			"Open this link to set a new password:\n%s\n\n"+
			"This link will expire in %d minutes.\n"+
			"If you did not request a password reset, you can ignore this email.",
		name, resetLink, ttlMinutes,
	)
}

// LogOnlyResetSender — заглушка на случай MAIL_ENABLED=false:
// ссылка попадает только в лог, письмо не уходит.
type LogOnlyResetSender struct{}

func (LogOnlyResetSender) SendPasswordReset(ctx context.Context, to, displayName, resetLink string, ttlMinutes int) error {
	logger.WithCtx(ctx).Info("Отправка писем выключена, ссылка сброса только в логе",
		zap.String("email", to),
		zap.String("reset_link", resetLink),
	)
	return nil
}
