// Package session содержит токен сессии пользователя и его передачу через контекст HTTP-запроса.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/localhub-client/internal/model"
)

// Token содержит bearer-токен сессии, полученный при входе и очищаемый при выходе.
// Передаётся в каждый вызов сервисов корзины и заказов явно.
type Token string

// Require возвращает ошибку, если токен пустой.
func (t Token) Require() error {
	if strings.TrimSpace(string(t)) == "" {
		return model.ErrNoSession
	}
	return nil
}

// AuthorizationHeader возвращает значение заголовка Authorization.
func (t Token) AuthorizationHeader() string {
	return "Bearer " + string(t)
}

// String скрывает значение токена в логах.
func (t Token) String() string {
	if t == "" {
		return ""
	}
	return fmt.Sprintf("token(%d)", len(t))
}

type contextKey string

const tokenKey contextKey = "sessionToken"

// WithToken добавляет токен в контекст.
func WithToken(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}

// FromContext извлекает токен из контекста.
func FromContext(ctx context.Context) (Token, bool) {
	t, ok := ctx.Value(tokenKey).(Token)
	return t, ok && t != ""
}
