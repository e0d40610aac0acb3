package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/jxucoder/previewd/internal/model"
)

type ctxKey int

const userCtxKey ctxKey = 0

// requireAuth parses the Authorization: Bearer header, verifies it
// against auth.Service, and stores the resolved user on the request
// context. Invalid/missing tokens are rejected before the handler runs.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := h.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userCtxKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(r *http.Request) *model.User {
	u, _ := r.Context().Value(userCtxKey).(*model.User)
	return u
}
