package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
)

// TokenVerifier проверяет bearer-токен и возвращает пользователя.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// AuthUnaryInterceptor кладёт пользователя из метаданных authorization в контекст.
// Вызов без метаданных идёт дальше анонимно; методы сами решают, нужен ли пользователь.
func AuthUnaryInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		values := md.Get("authorization")
		if len(values) == 0 || values[0] == "" {
			return handler(ctx, req)
		}

		raw, ok := auth.BearerToken(values[0])
		if !ok || verifier == nil {
			return nil, status.Error(codes.Unauthenticated, "bearer token required")
		}
		userID, err := verifier.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithUserID(ctx, userID), req)
	}
}
