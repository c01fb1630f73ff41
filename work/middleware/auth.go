package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"kptv-player/work/logger"
)

// BasicAuth guards next with HTTP basic auth. The password is checked
// against a bcrypt hash. An empty user disables the check.
func BasicAuth(user, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if user == "" {
			return next
		}
		hash := []byte(passwordHash)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// preflight requests carry no credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			u, p, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			if !ok || !userOK || bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
				logger.Warn("{middleware/auth - BasicAuth} Rejected credentials from %s for %s %s", r.RemoteAddr, r.Method, r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="kptv-player"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
