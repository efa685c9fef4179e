// Package middleware provides the HTTP filters installed by the hosting
// bootstrap: pairing-token validation, forwarded-header handling, virtual
// path scoping, and forwarded-identity resolution.
package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Header names used on requests forwarded by the HostLink agent.
const (
	// DefaultPairingHeader carries the shared pairing token.
	DefaultPairingHeader = "X-HostLink-Token"
	// DefaultIdentityHeader carries the identity assertion for the
	// authenticated client, when the agent performed authentication.
	DefaultIdentityHeader = "X-HostLink-Identity"
)

// GeneratePairingToken generates a secure random pairing token. The agent
// normally supplies the token; this is used by the simulator and tests.
func GeneratePairingToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// PairingConfig configures the pairing-token filter.
type PairingConfig struct {
	// Token is the shared secret the agent stamps on every forwarded request.
	Token string
	// AppPath scopes validation to requests under this path prefix.
	// Empty means every request is validated.
	AppPath string
	// Header is the request header carrying the token. Defaults to
	// DefaultPairingHeader.
	Header string
}

// PairingGuard validates the pairing token on inbound requests before any
// application code runs. A request whose token matches exactly is always
// served; a mismatch is rejected with 400. Repeated mismatches from the same
// remote get 429. Only mismatches are throttled: the agent shares the
// loopback remote with any rogue local process probing the port, so valid
// traffic must never be held back by someone else's failures.
func PairingGuard(cfg PairingConfig, logger *zap.Logger) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = DefaultPairingHeader
	}
	prefix := normalizePrefix(cfg.AppPath)
	limiter := newFailureLimiter()

	return func(c *gin.Context) {
		if prefix != "" && !underPrefix(c.Request.URL.Path, prefix) {
			c.Next()
			return
		}

		provided := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Token)) == 1 {
			c.Next()
			return
		}

		remote := remoteHost(c.Request.RemoteAddr)
		pairingRejects.Inc()
		if !limiter.fail(remote) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many pairing failures"})
			return
		}

		logger.Warn("Pairing token mismatch",
			zap.String("remote", remote),
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "pairing token mismatch"})
	}
}

// failureLimiter throttles remotes that keep presenting bad tokens.
// One failure per second with a small burst starves a brute-force attempt
// without slowing an agent recovering from a restart.
type failureLimiter struct {
	mu       sync.Mutex
	limiters map[string]*pairingFailures

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// pairingFailures tracks mismatch throttling state for a single remote
type pairingFailures struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{
		limiters:        make(map[string]*pairingFailures),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// fail records a mismatch from remote and reports whether the mismatch
// response may still be served (false once the remote is throttled).
func (f *failureLimiter) fail(remote string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastCleanup) > f.cleanupInterval {
		f.cleanup()
	}

	entry, ok := f.limiters[remote]
	if !ok {
		entry = &pairingFailures{limiter: rate.NewLimiter(rate.Limit(1), 5)}
		f.limiters[remote] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// cleanup removes remotes that have not failed recently
func (f *failureLimiter) cleanup() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for remote, entry := range f.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(f.limiters, remote)
		}
	}
	f.lastCleanup = time.Now()
}

// remoteHost strips the port from a RemoteAddr value.
func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// normalizePrefix cleans a virtual path prefix. "/" and "" both mean
// unscoped.
func normalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// underPrefix reports whether path is the prefix itself or nested below it.
func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
