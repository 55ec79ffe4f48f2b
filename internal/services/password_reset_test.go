package services

import (
	"context"
	"errors"
	"fmt"
	"infohub/internal/logger"
	"infohub/internal/models"
	"infohub/internal/utils"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// Мок хранилища токенов: повторяет транзакционный контракт
// PasswordResetRepository (условное гашение под одним замком).
type mockResetStore struct {
	mu        sync.Mutex
	nextID    int64
	tokens    []*models.PasswordResetToken
	passwords map[int]string // user_id -> новый хеш пароля
	failAll   bool
}

func newMockResetStore() *mockResetStore {
	return &mockResetStore{passwords: make(map[int]string)}
}

func (m *mockResetStore) CreateWithInvalidate(_ context.Context, t *models.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("хранилище недоступно")
	}
	for _, old := range m.tokens {
		if old.UserID == t.UserID && old.UsedAt == nil {
			usedAt := t.CreatedAt
			old.UsedAt = &usedAt
		}
	}
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.tokens = append(m.tokens, &cp)
	return nil
}

func (m *mockResetStore) Consume(_ context.Context, tokenHash, newPasswordHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return 0, errors.New("хранилище недоступно")
	}
	now := time.Now()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash && t.UsedAt == nil && t.ExpiresAt.After(now) {
			usedAt := now
			t.UsedAt = &usedAt
			m.passwords[t.UserID] = newPasswordHash
			for _, other := range m.tokens {
				if other.UserID == t.UserID && other.UsedAt == nil {
					other.UsedAt = &usedAt
				}
			}
			return t.UserID, nil
		}
	}
	return 0, pgx.ErrNoRows
}

func (m *mockResetStore) activeFor(userID int) []*models.PasswordResetToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var active []*models.PasswordResetToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.Active(now) {
			active = append(active, t)
		}
	}
	return active
}

func (m *mockResetStore) seed(t *models.PasswordResetToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.tokens = append(m.tokens, t)
}

type mockResetUsers struct {
	users map[string]*models.User
	err   error
}

func (m *mockResetUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

type sentMail struct {
	to   string
	name string
	link string
}

type mockResetSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *mockResetSender) SendPasswordReset(_ context.Context, to, displayName, resetLink string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, name: displayName, link: resetLink})
	return nil
}

func (m *mockResetSender) lastLink(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("письмо не отправлено")
	}
	return m.sent[len(m.sent)-1].link
}

const testURLTemplate = "https://app.example.com/reset-password?token={token}"

func newTestPasswordService(store *mockResetStore, sender ResetEmailSender) (*PasswordService, *mockResetUsers) {
	users := &mockResetUsers{users: map[string]*models.User{
		"user@example.com": {ID: 7, Username: "user", FullName: "Иван Иванов", Email: "user@example.com"},
	}}
	return NewPasswordService(store, users, sender, testURLTemplate, 30*time.Minute), users
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("невалидная ссылка сброса: %v", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("в ссылке нет токена: %s", link)
	}
	return token
}

func TestRequestReset_UnknownEmail(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	if err := svc.RequestReset(context.Background(), "nobody@example.com", "", ""); err != nil {
		t.Fatalf("для неизвестного email ожидается успех, получено: %v", err)
	}
	if len(store.tokens) != 0 {
		t.Fatalf("токенов создано %d, ожидалось 0", len(store.tokens))
	}
	if len(sender.sent) != 0 {
		t.Fatal("письмо отправлено для несуществующей учётки")
	}
}

func TestRequestReset_EmptyEmail(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	if err := svc.RequestReset(context.Background(), "   ", "", ""); err != nil {
		t.Fatalf("пустой email — no-op, получено: %v", err)
	}
	if len(store.tokens) != 0 || len(sender.sent) != 0 {
		t.Fatal("пустой email не должен давать побочных эффектов")
	}
}

func TestRequestReset_SingleActiveToken(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	if err := svc.RequestReset(context.Background(), "USER@example.com", "10.0.0.1", "curl/8"); err != nil {
		t.Fatalf("ошибка выпуска токена: %v", err)
	}
	if got := len(store.activeFor(7)); got != 1 {
		t.Fatalf("активных токенов %d, ожидался 1", got)
	}

	// Повторный запрос гасит предыдущий токен
	if err := svc.RequestReset(context.Background(), "user@example.com", "", ""); err != nil {
		t.Fatalf("ошибка повторного выпуска: %v", err)
	}
	active := store.activeFor(7)
	if len(active) != 1 {
		t.Fatalf("после повторного запроса активных токенов %d, ожидался 1", len(active))
	}
	if active[0].ID != 2 {
		t.Fatalf("активным должен остаться последний токен, активен id=%d", active[0].ID)
	}
}

func TestRequestReset_SenderFailureSwallowed(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{err: errors.New("smtp: connection refused")}
	svc, _ := newTestPasswordService(store, sender)

	if err := svc.RequestReset(context.Background(), "user@example.com", "", ""); err != nil {
		t.Fatalf("сбой доставки не должен всплывать, получено: %v", err)
	}
	if got := len(store.activeFor(7)); got != 1 {
		t.Fatalf("токен должен быть выпущен несмотря на сбой почты, активных %d", got)
	}
}

func TestRequestReset_StoreFailure(t *testing.T) {
	store := newMockResetStore()
	store.failAll = true
	svc, _ := newTestPasswordService(store, &mockResetSender{})

	if err := svc.RequestReset(context.Background(), "user@example.com", "", ""); err == nil {
		t.Fatal("отказ хранилища должен всплывать")
	}
}

func TestRequestReset_TruncatesProvenance(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	longIP := strings.Repeat("1", 100)
	longUA := strings.Repeat("u", 300)
	if err := svc.RequestReset(context.Background(), "user@example.com", longIP, longUA); err != nil {
		t.Fatalf("ошибка выпуска токена: %v", err)
	}

	tok := store.tokens[0]
	if len(tok.RequestIP) != 64 {
		t.Fatalf("request_ip обрезан до %d, ожидалось 64", len(tok.RequestIP))
	}
	if len(tok.UserAgent) != 255 {
		t.Fatalf("user_agent обрезан до %d, ожидалось 255", len(tok.UserAgent))
	}
}

func TestRequestReset_TruncatesMultibyteProvenance(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	// Двухбайтовые символы: резать нужно по рунам, иначе хвост — битый UTF-8
	longUA := strings.Repeat("я", 300)
	if err := svc.RequestReset(context.Background(), "user@example.com", "10.0.0.1", longUA); err != nil {
		t.Fatalf("ошибка выпуска токена: %v", err)
	}

	tok := store.tokens[0]
	if !utf8.ValidString(tok.UserAgent) {
		t.Fatal("user_agent после обрезки — невалидный UTF-8")
	}
	if got := utf8.RuneCountInString(tok.UserAgent); got != 255 {
		t.Fatalf("user_agent обрезан до %d символов, ожидалось 255", got)
	}
}

func TestRequestReset_UserLookupFailure(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, users := newTestPasswordService(store, sender)
	users.err = errors.New("connection refused")

	// Отказ хранилища при поиске пользователя — не "нет такого email"
	if err := svc.RequestReset(context.Background(), "user@example.com", "", ""); err == nil {
		t.Fatal("отказ хранилища при поиске пользователя должен всплывать")
	}
	if len(store.tokens) != 0 || len(sender.sent) != 0 {
		t.Fatal("при отказе хранилища не должно быть побочных эффектов")
	}
}

func TestRequestReset_RawSecretNeverStored(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)

	if err := svc.RequestReset(context.Background(), "user@example.com", "", ""); err != nil {
		t.Fatalf("ошибка выпуска токена: %v", err)
	}

	raw := tokenFromLink(t, sender.lastLink(t))
	tok := store.tokens[0]
	if tok.TokenHash == raw {
		t.Fatal("в хранилище лежит сырой секрет")
	}
	if tok.TokenHash != utils.HashResetSecret(raw) {
		t.Fatal("отпечаток в хранилище не совпадает с хешем секрета из ссылки")
	}
}

func TestResetPassword_EmptyToken(t *testing.T) {
	svc, _ := newTestPasswordService(newMockResetStore(), &mockResetSender{})

	err := svc.ResetPassword(context.Background(), "   ", "newpassword")
	if !errors.Is(err, ErrResetTokenRequired) {
		t.Fatalf("ожидалась ErrResetTokenRequired, получено: %v", err)
	}
}

func TestResetPassword_ShortPassword(t *testing.T) {
	store := newMockResetStore()
	store.seed(&models.PasswordResetToken{
		UserID:    7,
		TokenHash: utils.HashResetSecret("secret-1"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})
	svc, _ := newTestPasswordService(store, &mockResetSender{})

	err := svc.ResetPassword(context.Background(), "secret-1", "12345")
	if !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("ожидалась ErrPasswordTooShort, получено: %v", err)
	}
	if len(store.activeFor(7)) != 1 {
		t.Fatal("слабый пароль не должен трогать хранилище")
	}
	if len(store.passwords) != 0 {
		t.Fatal("пароль не должен меняться")
	}
}

func TestResetPassword_UnknownToken(t *testing.T) {
	svc, _ := newTestPasswordService(newMockResetStore(), &mockResetSender{})

	err := svc.ResetPassword(context.Background(), "no-such-secret", "newpassword")
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("ожидалась ErrInvalidOrExpiredToken, получено: %v", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	store := newMockResetStore()
	store.seed(&models.PasswordResetToken{
		UserID:    7,
		TokenHash: utils.HashResetSecret("stale-secret"),
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-30 * time.Minute),
	})
	svc, _ := newTestPasswordService(store, &mockResetSender{})

	err := svc.ResetPassword(context.Background(), "stale-secret", "newpassword")
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("просроченный токен: ожидалась ErrInvalidOrExpiredToken, получено: %v", err)
	}
}

func TestResetPassword_SingleUse(t *testing.T) {
	store := newMockResetStore()
	store.seed(&models.PasswordResetToken{
		UserID:    7,
		TokenHash: utils.HashResetSecret("secret-2"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})
	svc, _ := newTestPasswordService(store, &mockResetSender{})

	if err := svc.ResetPassword(context.Background(), "secret-2", "newpassword"); err != nil {
		t.Fatalf("первый сброс должен пройти: %v", err)
	}
	if !utils.CheckPasswordHash("newpassword", store.passwords[7]) {
		t.Fatal("хеш пароля не обновлён")
	}

	err := svc.ResetPassword(context.Background(), "secret-2", "anotherpassword")
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("повторное использование: ожидалась ErrInvalidOrExpiredToken, получено: %v", err)
	}
}

func TestResetPassword_ConcurrentConsume(t *testing.T) {
	store := newMockResetStore()
	store.seed(&models.PasswordResetToken{
		UserID:    7,
		TokenHash: utils.HashResetSecret("contested-secret"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})
	svc, _ := newTestPasswordService(store, &mockResetSender{})

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.ResetPassword(context.Background(), "contested-secret", fmt.Sprintf("password-%d", i))
		}(i)
	}
	wg.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidOrExpiredToken):
			invalid++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if ok != 1 || invalid != n-1 {
		t.Fatalf("успехов %d (ожидался 1), отказов %d (ожидалось %d)", ok, invalid, n-1)
	}
}

// Сквозной сценарий: два запроса подряд, первый секрет гаснет, второй срабатывает.
func TestPasswordReset_EndToEnd(t *testing.T) {
	store := newMockResetStore()
	sender := &mockResetSender{}
	svc, _ := newTestPasswordService(store, sender)
	ctx := context.Background()

	if err := svc.RequestReset(ctx, "user@example.com", "192.0.2.1", "test-agent"); err != nil {
		t.Fatalf("первый запрос: %v", err)
	}
	firstSecret := tokenFromLink(t, sender.lastLink(t))

	if err := svc.RequestReset(ctx, "user@example.com", "192.0.2.1", "test-agent"); err != nil {
		t.Fatalf("второй запрос: %v", err)
	}
	secondSecret := tokenFromLink(t, sender.lastLink(t))

	if firstSecret == secondSecret {
		t.Fatal("секреты двух выпусков совпали")
	}
	if got := len(store.activeFor(7)); got != 1 {
		t.Fatalf("активных токенов %d, ожидался 1", got)
	}

	if err := svc.ResetPassword(ctx, firstSecret, "brand-new-password"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("погашенный секрет: ожидалась ErrInvalidOrExpiredToken, получено: %v", err)
	}
	if err := svc.ResetPassword(ctx, secondSecret, "brand-new-password"); err != nil {
		t.Fatalf("действующий секрет: %v", err)
	}
	if !utils.CheckPasswordHash("brand-new-password", store.passwords[7]) {
		t.Fatal("пароль не обновлён")
	}
	if got := len(store.activeFor(7)); got != 0 {
		t.Fatalf("после сброса активных токенов %d, ожидалось 0", got)
	}
}

func TestBuildResetLink(t *testing.T) {
	store := newMockResetStore()
	cases := []struct {
		template string
		want     string
	}{
		{"https://x.example/reset?token={token}", "https://x.example/reset?token=SECRET"},
		{"https://x.example/reset", "https://x.example/reset?token=SECRET"},
		{"https://x.example/reset?lang=ru", "https://x.example/reset?lang=ru&token=SECRET"},
		{"", "http://localhost:3000/reset-password?token=SECRET"},
	}
	for _, c := range cases {
		svc := NewPasswordService(store, &mockResetUsers{}, &mockResetSender{}, c.template, 30*time.Minute)
		if got := svc.buildResetLink("SECRET"); got != c.want {
			t.Errorf("шаблон %q: получено %q, ожидалось %q", c.template, got, c.want)
		}
	}
}
