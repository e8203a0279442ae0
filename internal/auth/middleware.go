package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type contextKey string

const accountKey contextKey = "account"

// AccountFrom returns the authenticated account stored by Middleware.
func AccountFrom(ctx context.Context) (*models.Account, bool) {
	acct, ok := ctx.Value(accountKey).(*models.Account)
	return acct, ok
}

// Middleware validates the bearer token, resolves the account it names, and
// stores it on the request context. Requests without a valid token get 401.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := ParseAccessToken(strings.TrimPrefix(header, "Bearer "), s.secret)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		accountID, err := uuid.Parse(claims.Subject)
		if err != nil {
			unauthorized(w, "invalid token subject")
			return
		}

		var account models.Account
		if err := s.db.WithContext(r.Context()).First(&account, "id = ?", accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				unauthorized(w, "account no longer exists")
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, &account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose authenticated account is not an admin.
// It must be installed after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, ok := AccountFrom(r.Context())
		if !ok || acct.Role != models.RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"status":"fail","code":"FORBIDDEN","message":"admin access required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"status":"fail","code":"UNAUTHORIZED","message":"` + message + `"}`))
}
