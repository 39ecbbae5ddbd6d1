package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Policy holds the configured origin allow list. An empty list allows every origin.
type Policy struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewPolicy builds a policy from configured origins.
func NewPolicy(allowedOrigins []string) Policy {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins[origin] = struct{}{}
		}
	}
	return Policy{allowAll: len(origins) == 0, origins: origins}
}

// Allows reports whether the origin may call the API.
func (p Policy) Allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// CheckOrigin applies the policy to websocket upgrades. Requests without an
// Origin header come from non-browser clients and are accepted.
func (p Policy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.Allows(origin)
}

// New returns a simple CORS middleware that honors a list of allowed origins.
func New(allowedOrigins []string) gin.HandlerFunc {
	policy := NewPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if policy.Allows(origin) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
		} else if policy.allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
