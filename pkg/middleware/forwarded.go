package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ForwardedHeaders rewrites the request's remote address and scheme from the
// X-Forwarded-For and X-Forwarded-Proto headers. The headers are trusted
// unconditionally: in out-of-process mode the application listens only on
// loopback and the agent is the sole upstream.
func ForwardedHeaders(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			// The agent appends exactly one hop, so the rightmost
			// entry is the client as the agent saw it.
			entries := strings.Split(xff, ",")
			client := strings.TrimSpace(entries[len(entries)-1])
			if client != "" {
				c.Request.RemoteAddr = withPort(client)
			}
			// Consumed; the rewritten RemoteAddr is authoritative
			// and the header must not be interpreted twice.
			c.Request.Header.Del("X-Forwarded-For")
		}

		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			c.Request.URL.Scheme = strings.ToLower(proto)
			c.Request.Header.Del("X-Forwarded-Proto")
		}

		forwardedRequests.Inc()
		c.Next()
	}
}

// withPort ensures the address parses with net.SplitHostPort, which gin's
// ClientIP relies on. The agent does not forward the client's source port.
func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		// Bare IPv6 literal.
		return "[" + host + "]:0"
	}
	return host + ":0"
}
