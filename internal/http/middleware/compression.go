package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForPrefixes wraps a compression middleware so requests under
// any of prefixes, and range requests, bypass it.
func SkipCompressionForPrefixes(compressionHandler func(http.Handler) http.Handler, prefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range prefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if r.Header.Get("Range") != "" {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
