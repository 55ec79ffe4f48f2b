package services

import (
	"context"
	"errors"
	"fmt"
	"infohub/internal/logger"
	"infohub/internal/models"
	"infohub/internal/utils"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 6

	requestIPMaxLen = 64
	userAgentMaxLen = 255

	tokenPlaceholder = "{token}"
)

// Ошибки сброса пароля. "Не найден", "истёк" и "уже использован" намеренно
// слиты в одну ErrInvalidOrExpiredToken — наружу состояние токена не раскрываем.
var (
	ErrResetTokenRequired    = errors.New("reset token is required")
	ErrPasswordTooShort      = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
)

// PasswordResetStore — хранилище токенов сброса. Обе операции транзакционны
// на стороне хранилища (см. repository.PasswordResetRepository).
type PasswordResetStore interface {
	CreateWithInvalidate(ctx context.Context, t *models.PasswordResetToken) error
	Consume(ctx context.Context, tokenHash, newPasswordHash string) (int, error)
}

type resetUserReader interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// ResetEmailSender доставляет пользователю ссылку сброса.
type ResetEmailSender interface {
	SendPasswordReset(ctx context.Context, to, displayName, resetLink string, ttlMinutes int) error
}

type PasswordService struct {
	store       PasswordResetStore
	users       resetUserReader
	emailSender ResetEmailSender
	urlTemplate string
	tokenTTL    time.Duration
}

// NewPasswordService собирает координатор сброса пароля.
// sender может быть nil — тогда ссылки только логируются (доставка выключена).
func NewPasswordService(store PasswordResetStore, users resetUserReader, sender ResetEmailSender, urlTemplate string, ttl time.Duration) *PasswordService {
	if sender == nil {
		sender = LogOnlyResetSender{}
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &PasswordService{
		store:       store,
		users:       users,
		emailSender: sender,
		urlTemplate: urlTemplate,
		tokenTTL:    ttl,
	}
}

// RequestReset выпускает одноразовый токен и отправляет письмо со ссылкой.
// Для неизвестного email возвращает nil без каких-либо побочных эффектов —
// по ответу нельзя понять, существует ли учётная запись. Ошибку возвращает
// только отказ хранилища.
func (s *PasswordService) RequestReset(ctx context.Context, email, requestIP, userAgent string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	logger.WithCtx(ctx).Info("Запрос на сброс пароля", zap.String("email", email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		// Наличие почты не раскрываем, но отказ хранилища — не "нет такого email"
		if errors.Is(err, pgx.ErrNoRows) {
			logger.WithCtx(ctx).Info("Запрошен сброс для неизвестного email",
				zap.String("email", email),
			)
			return nil
		}
		logger.WithCtx(ctx).Error("Ошибка поиска пользователя по email",
			zap.String("email", email),
			zap.Error(err),
		)
		return fmt.Errorf("поиск пользователя по email: %w", err)
	}

	rawSecret := utils.NewResetSecret()

	now := time.Now()
	token := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: utils.HashResetSecret(rawSecret),
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
		RequestIP: trimToLength(requestIP, requestIPMaxLen),
		UserAgent: trimToLength(userAgent, userAgentMaxLen),
	}

	if err := s.store.CreateWithInvalidate(ctx, token); err != nil {
		logger.WithCtx(ctx).Error("Ошибка сохранения токена сброса пароля",
			zap.Int("user_id", user.ID),
			zap.Error(err),
		)
		return fmt.Errorf("сохранение токена сброса: %w", err)
	}

	resetLink := s.buildResetLink(rawSecret)

	// Письмо уходит после коммита и не зависит от HTTP-контекста.
	// Сбой доставки глотаем: клиент уже получил нейтральный ответ.
	sendCtx := context.WithoutCancel(ctx)
	if err := s.emailSender.SendPasswordReset(sendCtx, user.Email, user.FullName, resetLink, int(s.tokenTTL.Minutes())); err != nil {
		logger.WithCtx(ctx).Error("Ошибка отправки письма для сброса пароля",
			zap.Int("user_id", user.ID),
			zap.String("email", email),
			zap.Error(err),
		)
	}

	logger.WithCtx(ctx).Info("Токен сброса пароля выпущен",
		zap.Int("user_id", user.ID),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return nil
}

// ResetPassword подтверждает токен и устанавливает новый пароль.
// Гашение токена и смена пароля происходят в одной транзакции хранилища.
func (s *PasswordService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrResetTokenRequired
	}
	if len(newPassword) < minPasswordLength {
		logger.WithCtx(ctx).Warn("Слишком короткий новый пароль")
		return ErrPasswordTooShort
	}

	newHash, err := utils.HashPassword(newPassword)
	if err != nil {
		logger.WithCtx(ctx).Error("Ошибка хеширования нового пароля", zap.Error(err))
		return fmt.Errorf("хеширование пароля: %w", err)
	}

	userID, err := s.store.Consume(ctx, utils.HashResetSecret(rawToken), newHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			logger.WithCtx(ctx).Warn("Неверный или просроченный токен при сбросе пароля")
			return ErrInvalidOrExpiredToken
		}
		logger.WithCtx(ctx).Error("Ошибка хранилища при сбросе пароля", zap.Error(err))
		return fmt.Errorf("гашение токена сброса: %w", err)
	}

	logger.WithCtx(ctx).Info("Пароль успешно сброшен", zap.Int("user_id", userID))
	return nil
}

func (s *PasswordService) buildResetLink(rawSecret string) string {
	tmpl := strings.TrimSpace(s.urlTemplate)
	if tmpl == "" {
		return "http://localhost:3000/reset-password?token=" + rawSecret
	}
	if strings.Contains(tmpl, tokenPlaceholder) {
		return strings.ReplaceAll(tmpl, tokenPlaceholder, rawSecret)
	}
	separator := "?"
	if strings.Contains(tmpl, "?") {
		separator = "&"
	}
	return tmpl + separator + "token=" + rawSecret
}

// trimToLength режет по символам, не по байтам: колонки varchar(n) считают
// символы, а разрезанная посередине UTF-8 последовательность ломает вставку.
func trimToLength(value string, maxLen int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= maxLen {
		return value
	}
	return string(runes[:maxLen])
}
