package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader carries the shared secret on HTTP and WebSocket requests.
const SecretHeader = "X-Runcore-Secret"

// AuthHandler checks the shared secret of incoming requests. An empty
// secret disables authentication.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: strings.TrimSpace(sharedSecret),
	}
}

// Enabled reports whether a secret is required.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// Authorize reports whether r presents the shared secret, either in
// SecretHeader or in the "token" query parameter.
func (a *AuthHandler) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	presented := r.Header.Get(SecretHeader)
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}
	// Constant-time comparison.
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(presented)) == 1
}

// Middleware rejects unauthorized requests with 401.
func (a *AuthHandler) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
