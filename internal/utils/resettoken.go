package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const resetSecretBytes = 32

// NewResetSecret генерирует криптостойкий секрет для ссылки сброса пароля:
// 32 байта из crypto/rand в base64 url-safe без паддинга (пригодно для query-параметра).
// Отказ источника энтропии — фатален, не глотаем.
func NewResetSecret() string {
	raw := make([]byte, resetSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand недоступен: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// HashResetSecret — детерминированный отпечаток секрета (SHA-256, hex).
// В базе храним только его; поиск токена идёт по отпечатку.
func HashResetSecret(rawSecret string) string {
	sum := sha256.Sum256([]byte(rawSecret))
	return hex.EncodeToString(sum[:])
}
