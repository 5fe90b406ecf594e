// Package middleware содержит HTTP middleware локального API клиента.
package middleware

import (
	"net/http"
	"strings"

	"github.com/mmeshcher/localhub-client/internal/session"
)

// SessionCookieName задаёт cookie, из которой берётся токен, если нет заголовка Authorization.
const SessionCookieName = "session_token"

// Session извлекает токен сессии из заголовка Authorization или cookie и кладёт его в контекст.
// Запрос без токена отклоняется с 401.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"no session token"}`))
			return
		}

		ctx := session.WithToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) session.Token {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return session.Token(strings.TrimSpace(value))
		}
		return ""
	}

	if c, err := r.Cookie(SessionCookieName); err == nil {
		return session.Token(strings.TrimSpace(c.Value))
	}

	return ""
}
