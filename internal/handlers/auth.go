package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"infohub/internal/config"
	"infohub/internal/logger"
	"infohub/internal/models"
	"infohub/internal/reqctx"
	"infohub/internal/services"
	"infohub/internal/utils"
	helpers "infohub/internal/utils/helpers"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	cfg         *config.Config
}

func NewAuthHandler(authService *services.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{authService: authService, cfg: cfg}
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
}

// Register godoc
// @Summary Регистрация нового пользователя
// @Tags auth
// @Accept json
// @Produce json
// @Param input body registerRequest true "Данные регистрации"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WithCtx(r.Context()).Warn("Ошибка декодирования JSON в Register", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Request body is required")
		return
	}

	user := &models.User{
		Username: strings.TrimSpace(req.Username),
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(strings.ToLower(req.Email)),
	}
	if user.Username == "" || user.Email == "" || req.Password == "" {
		helpers.Error(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	if err := h.authService.RegisterUser(r.Context(), user, req.Password); err != nil {
		logger.WithCtx(r.Context()).Warn("Ошибка регистрации пользователя", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	helpers.Message(w, http.StatusCreated, "Пользователь успешно зарегистрирован")
}

// Login godoc
// @Summary Авторизация пользователя
// @Tags auth
// @Accept json
// @Produce json
// @Param input body loginRequest true "Данные для входа"
// @Success 200 {object} loginResponse
// @Failure 401 {object} map[string]string
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WithCtx(r.Context()).Warn("Ошибка декодирования JSON в Login", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Request body is required")
		return
	}

	accessTTL, _ := time.ParseDuration(h.cfg.AccessTokenTTL)
	refreshTTL, _ := time.ParseDuration(h.cfg.RefreshTokenTTL)

	access, refresh, user, err := h.authService.LoginUser(
		r.Context(),
		req.Username,
		req.Password,
		h.cfg.JWTSecret,
		accessTTL,
		refreshTTL,
	)
	if err != nil {
		logger.WithCtx(r.Context()).Warn("Ошибка входа пользователя", zap.String("username", req.Username), zap.Error(err))
		helpers.Error(w, http.StatusUnauthorized, err.Error())
		return
	}

	helpers.JSON(w, http.StatusOK, loginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		Username:     user.Username,
		FullName:     user.FullName,
		Role:         user.Role,
	})
}

// Refresh godoc
// @Summary Обновление access-токена по refresh-токену
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCtx(r.Context())

	userID, role, tokenString, ok := h.parseBearerToken(w, r, "refresh")
	if !ok {
		return
	}

	isValid, err := h.authService.ValidateRefreshToken(r.Context(), userID, tokenString)
	if err != nil || !isValid {
		log.Warn("Недействительный refresh token", zap.Error(err))
		helpers.Error(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	accessTTL, _ := time.ParseDuration(h.cfg.AccessTokenTTL)
	accessToken, err := utils.GenerateToken(h.cfg.JWTSecret, userID, role, accessTTL, "access")
	if err != nil {
		log.Error("Ошибка генерации access-токена", zap.Error(err))
		helpers.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.Info("Токен обновлён", zap.Int("user_id", userID))
	helpers.JSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Logout godoc
// @Summary Выход (удаление refresh токена)
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCtx(r.Context())

	userID, _, tokenString, ok := h.parseBearerToken(w, r, "refresh")
	if !ok {
		return
	}

	if err := h.authService.Logout(r.Context(), userID, tokenString); err != nil {
		log.Error("Ошибка при удалении refresh токена", zap.Error(err))
		helpers.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	log.Info("Пользователь вышел", zap.Int("user_id", userID))
	helpers.Message(w, http.StatusOK, "Logged out")
}

// parseBearerToken валидирует Bearer-токен нужного типа и возвращает его claims.
// При ошибке сам пишет 401 в ответ.
func (h *AuthHandler) parseBearerToken(w http.ResponseWriter, r *http.Request, wantType string) (userID int, role, tokenString string, ok bool) {
	log := logger.WithCtx(r.Context())

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		log.Warn("Отсутствует Bearer-токен")
		helpers.Error(w, http.StatusUnauthorized, "missing token")
		return 0, "", "", false
	}
	tokenString = strings.TrimPrefix(authHeader, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		log.Warn("Неверный или просроченный токен", zap.Error(err))
		helpers.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return 0, "", "", false
	}

	rawUserID, ok1 := claims["user_id"].(float64)
	role, ok2 := claims["role"].(string)
	tokenType, ok3 := claims["token_type"].(string)
	if !ok1 || !ok2 || !ok3 || tokenType != wantType {
		log.Warn("Недопустимый payload токена", zap.Any("claims", claims))
		helpers.Error(w, http.StatusUnauthorized, "invalid token payload")
		return 0, "", "", false
	}

	return int(rawUserID), role, tokenString, true
}

// Profile godoc
// @Summary Профиль текущего пользователя
// @Tags auth
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} models.UserProfileResponse
// @Failure 401 {object} map[string]string
// @Router /api/profile [get]
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := reqctx.GetUserID(r.Context())
	if !ok || userID == 0 {
		helpers.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		logger.WithCtx(r.Context()).Warn("Пользователь не найден при чтении профиля", zap.Int("user_id", userID))
		helpers.Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	helpers.JSON(w, http.StatusOK, models.UserProfileResponse{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	})
}
