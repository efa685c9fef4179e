package hosting

import "os"

// EnvPrefix namespaces the environment variables the agent sets on managed
// application processes.
const EnvPrefix = "HOSTLINK_"

// Environment variable names (without prefix) consulted during bootstrap.
const (
	// EnvPort is the loopback port assigned for out-of-process mode.
	EnvPort = "PORT"
	// EnvAppPath is the virtual application path prefix.
	EnvAppPath = "APP_PATH"
	// EnvToken is the shared pairing token.
	EnvToken = "TOKEN"
	// EnvAuthModes is the semicolon-separated list of authentication
	// schemes the agent applies before forwarding.
	EnvAuthModes = "AUTH_MODES"
)

// Resolve returns the configuration value for key: an explicit builder
// setting wins over the prefixed environment variable. Absence is a normal
// value, not an error. Values are re-read on every call.
func Resolve(b *Builder, key string) string {
	if v, ok := b.Lookup(key); ok {
		return v
	}
	return os.Getenv(EnvPrefix + key)
}
