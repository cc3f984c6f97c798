package handlers

import (
	"net/http"
	"time"

	"github.com/vidstream/backend/internal/middleware"
	"github.com/vidstream/backend/internal/models"
)

// RefreshTokenCookie names the cookie carrying the refresh token.
const RefreshTokenCookie = "refreshToken"

// CookieSettings controls the attributes of the session cookies.
type CookieSettings struct {
	Secure bool
	Domain string
}

func (c CookieSettings) setSession(w http.ResponseWriter, tokens models.SessionTokens, now time.Time) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, tokens.AccessToken, maxAge(tokens.AccessExpiresAt, now)))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, tokens.RefreshToken, maxAge(tokens.RefreshExpiresAt, now)))
}

func (c CookieSettings) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, "", -1))
}

func (c CookieSettings) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func maxAge(expiresAt, now time.Time) int {
	seconds := int(expiresAt.Sub(now).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
