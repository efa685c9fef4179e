package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// IdentityConfig configures the forwarded-identity filter. The values are an
// immutable snapshot taken when the hosting bootstrap resolves its mode.
type IdentityConfig struct {
	// Enabled reports whether the agent authenticates clients and the
	// application should trust the forwarded identity.
	Enabled bool
	// Secret verifies the identity assertion's HMAC signature. Empty in
	// in-process mode, where the in-memory transport is already trusted
	// and the header carries the plain user name.
	Secret string
	// Header is the request header carrying the assertion. Defaults to
	// DefaultIdentityHeader.
	Header string
}

// ForwardedIdentity resolves the client identity asserted by the agent and
// stores it in the request context under "user". Requests without an
// assertion proceed anonymously. Out-of-process assertions are HS256 tokens
// signed with the pairing secret; an invalid signature is rejected with 401.
func ForwardedIdentity(cfg IdentityConfig, logger *zap.Logger) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = DefaultIdentityHeader
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		raw := c.GetHeader(header)
		if raw == "" {
			c.Next()
			return
		}

		if cfg.Secret == "" {
			c.Set("user", raw)
			c.Next()
			return
		}

		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			identityRejects.Inc()
			logger.Warn("Invalid identity assertion", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid identity assertion"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			identityRejects.Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid identity claims"})
			return
		}

		user, _ := claims["sub"].(string)
		if user == "" {
			identityRejects.Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity assertion has no subject"})
			return
		}

		c.Set("user", user)
		if scheme, _ := claims["scheme"].(string); scheme != "" {
			c.Set("auth_scheme", scheme)
		}

		c.Next()
	}
}

// SignIdentityAssertion builds the identity assertion the agent stamps on
// forwarded requests in out-of-process mode. Exposed for the agent simulator
// and tests.
func SignIdentityAssertion(user, scheme, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    user,
		"scheme": scheme,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Minute).Unix(),
	})
	return token.SignedString([]byte(secret))
}
