package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/logging"
	"github.com/vidstream/backend/internal/models"
	"github.com/vidstream/backend/internal/response"
)

// AccessTokenCookie names the cookie carrying the access token.
const AccessTokenCookie = "accessToken"

type userCtxKey struct{}

// Authenticator resolves the user owning an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.User, error)
}

// RequireUser rejects requests without a valid access token, taken from the accessToken cookie
// or an Authorization bearer header, and stores the resolved user on the request context.
func RequireUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := AccessToken(r)
			if token == "" {
				response.Failure(ctx, w, apperror.New(apperror.Unauthorized, "unauthorized request"))
				return
			}

			user, err := auth.Authenticate(ctx, token)
			if err != nil {
				response.Failure(ctx, w, err)
				return
			}

			ctx = logging.WithUserID(ctx, user.ID)
			ctx = context.WithValue(ctx, userCtxKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken extracts the access token from the request, preferring the cookie.
func AccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(models.User)
	return user, ok
}
