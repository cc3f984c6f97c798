package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Credentials    CredentialService
	Sessions       SessionManager
	RateLimiter    RateLimiter
	Cookies        CookieSettings
	MaxUploadBytes int64
	AllowedOrigins []string
	NowFunc        func() time.Time
}

// NewRouter builds the HTTP handler serving every endpoint.
func NewRouter(logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	health := HealthHandler{}
	users := AuthHandler{
		Credentials:    deps.Credentials,
		Sessions:       deps.Sessions,
		Cookies:        deps.Cookies,
		MaxUploadBytes: deps.MaxUploadBytes,
		NowFunc:        deps.NowFunc,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logger))
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(handle(func(http.ResponseWriter, *http.Request) error {
		return apperror.New(apperror.NotFound, "route not found")
	}))

	r.Get("/healthz", health.Handle)

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", handle(rateLimited(deps.RateLimiter, "register", users.Register)))
		r.Post("/login", handle(rateLimited(deps.RateLimiter, "login", users.Login)))
		r.Post("/refresh-token", handle(rateLimited(deps.RateLimiter, "refresh", users.Refresh)))

		r.Group(func(r chi.Router) {
			if deps.Sessions != nil {
				r.Use(middleware.RequireUser(deps.Sessions))
			}
			r.Post("/logout", handle(users.Logout))
			r.Get("/me", handle(users.Me))
		})
	})

	return r
}
