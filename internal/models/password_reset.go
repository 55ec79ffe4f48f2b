package models

import "time"

type PasswordResetToken struct {
	ID        int64      `json:"id"`
	UserID    int        `json:"user_id"`
	TokenHash string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	RequestIP string     `json:"request_ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

// Active — токен не использован и не истёк на момент now.
func (t *PasswordResetToken) Active(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}
