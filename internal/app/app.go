package app

import (
	"time"

	"infohub/internal/config"
	"infohub/internal/db"
	"infohub/internal/handlers"
	"infohub/internal/repository"
	"infohub/internal/routes"
	"infohub/internal/services"

	"github.com/gorilla/mux"
)

func InitApp(cfg *config.Config) (*mux.Router, error) {
	if err := db.ApplyMigrations(cfg); err != nil {
		return nil, err
	}

	conn, err := db.NewPostgresConnection(cfg)
	if err != nil {
		return nil, err
	}

	// Репозитории
	userRepo := repository.NewUserRepository(conn)
	resetRepo := repository.NewPasswordResetRepository(conn)

	// Сервисы
	authService := services.NewAuthService(userRepo)

	var resetSender services.ResetEmailSender
	if cfg.MailEnabled {
		resetSender = services.NewEmailService(cfg)
	}
	passwordService := services.NewPasswordService(
		resetRepo,
		userRepo,
		resetSender,
		cfg.PasswordResetURLTmpl,
		time.Duration(cfg.PasswordResetTTLMin)*time.Minute,
	)

	// Хендлеры
	authHandler := handlers.NewAuthHandler(authService, cfg)
	passwordHandler := handlers.NewPasswordHandler(passwordService)

	// Маршруты
	router := mux.NewRouter()
	routes.InitRoutes(router, cfg.JWTSecret, authHandler, passwordHandler)

	return router, nil
}
