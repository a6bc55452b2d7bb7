// Package middleware provides HTTP middleware for the gateway's REST
// surface and its WebSocket upgrade route.
package middleware

import "net/http"

// CORS grants the configured browser origins access to the health and
// metrics endpoints and to the WebSocket upgrade's preflight. Credentials
// are only ever allowed for an origin listed explicitly; a wildcard match
// echoes the origin but stays credential-less, since a credentialed
// wildcard would let any site ride the browser's cookies into the
// gateway.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, listed := explicit[origin]
				if listed || wildcard {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					h.Add("Vary", "Origin")
					if listed {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
