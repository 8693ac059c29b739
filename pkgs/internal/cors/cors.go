package cors

import (
	"net/http"

	"go.acuvity.ai/bahamut"
)

// HandleGenericHeaders sets the security headers of every decision
// point response and handles CORS for browsers. It returns false if
// the request was a preflight and has been answered.
func HandleGenericHeaders(w http.ResponseWriter, req *http.Request, corsPolicy *bahamut.CORSPolicy) bool {

	h := w.Header()
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Cache-Control", "no-store")

	if corsPolicy == nil {
		return true
	}

	origin := req.Header.Get("Origin")

	if req.Method == http.MethodOptions {
		corsPolicy.Inject(h, origin, true)
		w.WriteHeader(http.StatusNoContent)
		return false
	}

	corsPolicy.Inject(h, origin, false)

	return true
}
