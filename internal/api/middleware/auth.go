// Package middleware guards the command surface of the simulation API.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/newthinker/marketsim/internal/api/response"
	"github.com/newthinker/marketsim/internal/core"
)

// APIKeyAuth returns middleware that checks the X-API-Key header on the
// order, loan, and short command routes. An empty configured key disables
// the check, which is the single-player default.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				response.Error(w, http.StatusUnauthorized,
					core.WrapError(core.ErrConfigMissing, nil))
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				response.Error(w, http.StatusUnauthorized,
					core.WrapError(core.ErrConfigInvalid, nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
