// Package auth проверяет bearer-токены пользователей витрины.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

// UserIDFromContext возвращает пользователя, установленного проверенным токеном.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}

// WithUserID кладёт пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// ErrNoSecret — секрет для проверки подписи не настроен.
var ErrNoSecret = errors.New("jwt secret is not configured")

// TokenVerifier проверяет токены HS256; subject токена содержит идентификатор пользователя.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier создаёт проверку токенов с общим секретом.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify разбирает токен и возвращает идентификатор пользователя.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// BearerToken достаёт токен из значения заголовка Authorization.
func BearerToken(header string) (string, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

// IssueToken выпускает токен для пользователя (CLI, тесты, локальная разработка).
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}
