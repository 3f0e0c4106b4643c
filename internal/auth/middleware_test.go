package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	userID, err := uuid.NewV4()
	require.NoError(t, err)

	tests := []struct {
		name           string
		userHeader     string
		roleHeader     string
		expectedStatus int
	}{
		{"valid identity", userID.String(), "SALES_STAFF", http.StatusOK},
		{"missing user id", "", "SALES_STAFF", http.StatusUnauthorized},
		{"malformed user id", "not-a-uuid", "SALES_STAFF", http.StatusUnauthorized},
		{"missing role", userID.String(), "", http.StatusUnauthorized},
		{"unknown role", userID.String(), "WIZARD", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor Actor
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor, err := ActorFromContext(r.Context())
				require.NoError(t, err)
				gotActor = actor
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.userHeader != "" {
				req.Header.Set("X-User-ID", tt.userHeader)
			}
			if tt.roleHeader != "" {
				req.Header.Set("X-User-Role", tt.roleHeader)
			}
			rec := httptest.NewRecorder()
			Middleware(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, userID, gotActor.UserID)
				assert.Equal(t, RoleSalesStaff, gotActor.Role)
			}
		})
	}
}
