package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"strings"

	"github.com/RadAdrian/ai-marketplace-app/utils"
)

const guestCookieName = "guest_session"

func newGuestSessionKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// GuestSessionMiddleware assigns every visitor an opaque session key via a
// session cookie (no Max-Age, dies with the browser session). Guest message
// counters are keyed by this value, so a page reload keeps the count while a
// new browser session starts fresh.
func GuestSessionMiddleware(next http.Handler) http.Handler {
	secure := strings.ToLower(os.Getenv("ENV")) != "development"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		if c, err := r.Cookie(guestCookieName); err == nil && c.Value != "" {
			key = c.Value
		} else {
			key = newGuestSessionKey()
			if key != "" {
				http.SetCookie(w, &http.Cookie{
					Name:     guestCookieName,
					Value:    key,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), utils.GuestSessionKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
