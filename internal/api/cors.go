package api

import (
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsMaxAge  = "600"
)

// CORS answers preflight requests and adds Access-Control headers for
// allowed origins. The origin list can be swapped at runtime.
type CORS struct {
	origins atomic.Pointer[[]string]
}

// NewCORS creates a [CORS] allowing origins. "*" allows any origin; an
// empty list disables cross-origin access.
func NewCORS(origins []string) *CORS {
	c := &CORS{}
	c.SetOrigins(origins)
	return c
}

// SetOrigins replaces the allowed origins.
func (c *CORS) SetOrigins(origins []string) {
	o := slices.Clone(origins)
	c.origins.Store(&o)
}

// Origins returns the allowed origins.
func (c *CORS) Origins() []string {
	return slices.Clone(*c.origins.Load())
}

func (c *CORS) allowed(origin string) (value string, ok bool) {
	for _, o := range *c.origins.Load() {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

// Middleware wraps next. Preflight requests are answered here and never
// reach next.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")

		value, ok := c.allowed(origin)
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if preflight {
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if ok {
				h.Set("Access-Control-Allow-Origin", value)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if ok {
			h.Set("Access-Control-Allow-Origin", value)
			h.Set("Access-Control-Expose-Headers", "Content-Disposition, ETag, X-Correlation-ID")
		}
		next.ServeHTTP(w, r)
	})
}
