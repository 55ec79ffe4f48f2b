package repository

import (
	"context"
	"infohub/internal/logger"
	"infohub/internal/models"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PasswordResetRepository struct {
	db *pgxpool.Pool
}

func NewPasswordResetRepository(db *pgxpool.Pool) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// CreateWithInvalidate в одной транзакции гасит все активные токены пользователя
// и вставляет новый. После коммита активным остаётся ровно один токен.
func (r *PasswordResetRepository) CreateWithInvalidate(ctx context.Context, t *models.PasswordResetToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		logger.Log.Error("Не удалось открыть транзакцию для выпуска токена (repo)", zap.Error(err), zap.Int("user_id", t.UserID))
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE user_id = $1 AND used_at IS NULL
	`, t.UserID, t.CreatedAt)
	if err != nil {
		logger.Log.Error("Не удалось погасить старые токены (repo)", zap.Error(err), zap.Int("user_id", t.UserID))
		return err
	}

	// Нарушение уникальности token_hash возвращаем как есть:
	// коллизия отпечатков — признак деградации генератора, не повод для retry.
	err = tx.QueryRow(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, created_at, expires_at, request_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt, t.RequestIP, t.UserAgent).Scan(&t.ID)
	if err != nil {
		logger.Log.Error("Не удалось сохранить токен сброса (repo)", zap.Error(err), zap.Int("user_id", t.UserID))
		return err
	}

	return tx.Commit(ctx)
}

// Consume атомарно гасит токен и меняет пароль владельца.
// Условный UPDATE с RETURNING и есть compare-and-set: из двух конкурентных
// вызовов с одним секретом строку получит ровно один, второй увидит pgx.ErrNoRows.
// Пароль обновляется в той же транзакции — токен не может остаться
// использованным без фактической смены пароля.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash, newPasswordHash string) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		logger.Log.Error("Не удалось открыть транзакцию для сброса пароля (repo)", zap.Error(err))
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	var tokenID int64
	var userID int
	err = tx.QueryRow(ctx, `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1
		  AND used_at IS NULL
		  AND expires_at > $2
		RETURNING id, user_id
	`, tokenHash, now).Scan(&tokenID, &userID)
	if err != nil {
		// pgx.ErrNoRows — не найден, истёк или уже использован; выше это один вид ошибки
		return 0, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET password_hash = $1, updated_at = $3 WHERE id = $2`, newPasswordHash, userID, now); err != nil {
		logger.Log.Error("Не удалось обновить пароль пользователя (repo)", zap.Error(err), zap.Int("user_id", userID))
		return 0, err
	}

	// Подстраховка: гасим остальные активные токены пользователя,
	// если параллельно успели выпустить ещё один
	if _, err := tx.Exec(ctx, `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE user_id = $1 AND used_at IS NULL
	`, userID, now); err != nil {
		logger.Log.Error("Не удалось погасить прочие токены пользователя (repo)", zap.Error(err), zap.Int("user_id", userID))
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return userID, nil
}
