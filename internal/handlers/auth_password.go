package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"infohub/internal/logger"
	"infohub/internal/services"
	helpers "infohub/internal/utils/helpers"

	"go.uber.org/zap"
)

const genericResetMessage = "If an account with this email exists, a reset link has been sent"

type PasswordHandler struct {
	svc *services.PasswordService
}

func NewPasswordHandler(svc *services.PasswordService) *PasswordHandler {
	return &PasswordHandler{svc: svc}
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ForgotPassword godoc
// @Summary Запрос восстановления пароля
// @Description Отправляет письмо со ссылкой для сброса пароля. Ответ всегда одинаковый, даже если e-mail не найден.
// @Tags auth
// @Accept json
// @Produce json
// @Param input body forgotPasswordRequest true "Email пользователя"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/forgot-password [post]
func (h *PasswordHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCtx(r.Context())

	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("Невалидный payload в ForgotPassword", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Request body is required")
		return
	}

	// Наличие email не раскрываем — в обеих ветках один и тот же ответ
	if err := h.svc.RequestReset(r.Context(), req.Email, clientIP(r), r.UserAgent()); err != nil {
		log.Error("Сбой хранилища при запросе восстановления пароля", zap.Error(err))
		helpers.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	helpers.Message(w, http.StatusOK, genericResetMessage)
}

// ResetPassword godoc
// @Summary Сброс пароля по токену
// @Description Устанавливает новый пароль по одноразовому токену из письма.
// @Tags auth
// @Accept json
// @Produce json
// @Param input body resetPasswordRequest true "Токен и новый пароль"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/reset-password [post]
func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCtx(r.Context())

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("Невалидный payload в ResetPassword", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Request body is required")
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, services.ErrResetTokenRequired),
			errors.Is(err, services.ErrPasswordTooShort),
			errors.Is(err, services.ErrInvalidOrExpiredToken):
			log.Warn("Не удалось сбросить пароль по токену", zap.Error(err))
			helpers.Error(w, http.StatusBadRequest, capitalize(err.Error()))
		default:
			log.Error("Сбой хранилища при сбросе пароля", zap.Error(err))
			helpers.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	helpers.Message(w, http.StatusOK, "Password updated successfully")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
