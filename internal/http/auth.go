package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/golang-jwt/jwt/v4"
)

type ctxKey int

const userKey ctxKey = iota

// Auth validates the bearer token and loads the account it names into the
// request context.
func (h *Handler) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.JWTSecret), nil
		})
		if err != nil || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := h.Directory.UserByID(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey).(*models.User)
	return user
}

// requirePin re-verifies the account PIN on spend paths.
func (h *Handler) requirePin(r *http.Request, pin string) error {
	return h.Directory.VerifyPIN(r.Context(), currentUser(r).ID, pin)
}
