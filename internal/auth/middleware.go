package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/UkralStul/yatube/internal/domain"
)

type contextKey string

const authorKey = contextKey("author")

// WithAuthor stores the resolved author in ctx.
func WithAuthor(ctx context.Context, author *domain.Author) context.Context {
	return context.WithValue(ctx, authorKey, author)
}

// AuthorFrom returns the author resolved for the request, or nil for anonymous requests.
func AuthorFrom(ctx context.Context) *domain.Author {
	author, _ := ctx.Value(authorKey).(*domain.Author)
	return author
}

// Middleware resolves the bearer token, when present, into the request context.
// A missing, malformed or expired token leaves the request anonymous, so public
// pages stay readable and RequireAuthor answers 401 where a login is needed.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			author, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				slog.Debug("ignoring invalid access token", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthor(r.Context(), author)))
		})
	}
}

// RequireAuthor rejects anonymous requests.
func RequireAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AuthorFrom(r.Context()) == nil {
			unauthorized(w, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest reads the Authorization header, falling back to the
// access_token query parameter used by websocket clients.
func tokenFromRequest(r *http.Request) string {
	if token := bearerFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("access_token")
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
