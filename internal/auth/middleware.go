package auth

import (
	"net/http"

	"github.com/gofrs/uuid"
)

// Middleware reads the identity established by the upstream auth gateway
// from X-User-ID / X-User-Role and places an Actor on the request context.
// Requests without a parsable identity are rejected before reaching any
// handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.FromString(r.Header.Get("X-User-ID"))
		if err != nil {
			http.Error(w, "missing or invalid user identity", http.StatusUnauthorized)
			return
		}

		role := Role(r.Header.Get("X-User-Role"))
		if !role.Valid() {
			http.Error(w, "missing or invalid user role", http.StatusUnauthorized)
			return
		}

		ctx := WithActor(r.Context(), Actor{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
