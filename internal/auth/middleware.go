package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const SubjectKey contextKey = "subject"

const anonymous = "anonymous"

func (s *Service) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SubjectKey, anonymous)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
			return
		}

		subject, err := s.ValidateToken(parts[1])
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate checks a token passed outside the Authorization header, as
// websocket clients do with the token query parameter.
func (s *Service) Authenticate(token string) (string, error) {
	if !s.Enabled() {
		return anonymous, nil
	}
	if token == "" {
		return "", ErrInvalidToken
	}
	return s.ValidateToken(token)
}

func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectKey).(string)
	return subject
}
