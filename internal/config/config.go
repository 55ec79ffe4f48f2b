package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DbHost    string
	DbPort    string
	DbUser    string
	DbPass    string
	DbName    string
	DbSSLMode string

	JWTSecret       string
	AccessTokenTTL  string
	RefreshTokenTTL string

	Log      string
	LogLevel string
	Env      string // dev|prod

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string

	MailFrom    string
	MailSubject string
	MailEnabled bool

	PasswordResetTTLMin  int
	PasswordResetURLTmpl string

	MigrationsPath string
}

// LoadConfig загружает .env, читает переменные окружения и выставляет дефолты.
// Ничего не логирует — чтобы не создавать зависимость от logger.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	def := func(v, d string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return d
		}
		return v
	}

	resetTTL, err := strconv.Atoi(def(os.Getenv("PASSWORD_RESET_TTL_MIN"), "30"))
	if err != nil {
		return nil, fmt.Errorf("PASSWORD_RESET_TTL_MIN: %w", err)
	}
	if resetTTL < 1 {
		// нижняя граница — одна минута
		resetTTL = 1
	}

	cfg := &Config{
		Port:      def(os.Getenv("PORT"), "8080"),
		DbHost:    os.Getenv("DB_HOST"),
		DbPort:    def(os.Getenv("DB_PORT"), "5432"),
		DbUser:    os.Getenv("DB_USER"),
		DbPass:    os.Getenv("DB_PASSWORD"),
		DbName:    os.Getenv("DB_NAME"),
		DbSSLMode: def(os.Getenv("DB_SSLMODE"), "disable"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		AccessTokenTTL:  def(os.Getenv("ACCESS_TOKEN_EXPIRY"), "15m"),
		RefreshTokenTTL: def(os.Getenv("REFRESH_TOKEN_EXPIRY"), "720h"),

		Log:      os.Getenv("LOG"),
		LogLevel: strings.ToLower(def(os.Getenv("LOGLEVEL"), "info")),
		Env:      strings.ToLower(def(os.Getenv("ENV"), "prod")),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     def(os.Getenv("SMTP_PORT"), "587"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		MailFrom:    def(os.Getenv("MAIL_FROM"), "no-reply@infohub.local"),
		MailSubject: def(os.Getenv("MAIL_SUBJECT"), "Password reset"),
		MailEnabled: def(os.Getenv("MAIL_ENABLED"), "false") == "true",

		PasswordResetTTLMin:  resetTTL,
		PasswordResetURLTmpl: def(os.Getenv("PASSWORD_RESET_URL_TEMPLATE"), "http://localhost:3000/reset-password?token={token}"),

		MigrationsPath: def(os.Getenv("MIGRATIONS_PATH"), "migrations"),
	}

	return cfg, nil
}

// Validate возвращает предупреждения и фатальную ошибку (если критично).
func (c *Config) Validate() (warnings []string, err error) {
	// Критичные: БД
	if c.DbHost == "" || c.DbUser == "" || c.DbName == "" {
		return nil, fmt.Errorf("incomplete DB config (DB_HOST/DB_USER/DB_NAME)")
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		warnings = append(warnings, "JWT_SECRET is empty")
	}

	// SMTP — предупреждение: без него ссылки сброса попадают только в лог
	if c.MailEnabled && (c.SMTPHost == "" || c.SMTPUser == "") {
		warnings = append(warnings, "MAIL_ENABLED=true, but SMTP is not fully configured")
	}

	if !strings.Contains(c.PasswordResetURLTmpl, "{token}") {
		warnings = append(warnings, "PASSWORD_RESET_URL_TEMPLATE has no {token} placeholder, token will be appended as a query parameter")
	}

	if c.Port == "" {
		warnings = append(warnings, "PORT is empty, using default 8080")
	}

	return warnings, nil
}

// GetDSN — полная DSN (с паролем)
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbPass, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}

// GetDSNSafe — DSN без пароля (для логов)
func (c *Config) GetDSNSafe() string {
	return fmt.Sprintf(
		"postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}
