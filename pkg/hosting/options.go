package hosting

import "github.com/hostlink/go-hostlink/pkg/middleware"

// Options are the shared hosting options consulted by the startup filters.
// Activate fills them from the selected mode; applications may adjust the
// non-security fields before Build.
type Options struct {
	// ForwardAuthentication reports whether the agent authenticates
	// clients before forwarding and the application should trust the
	// forwarded identity.
	ForwardAuthentication bool

	// MaxRequestBodyBytes caps request bodies. Zero means no cap; the
	// agent enforces its own limit either way.
	MaxRequestBodyBytes int64

	// PairingHeader is the header carrying the pairing token.
	PairingHeader string

	// IdentityHeader is the header carrying the identity assertion.
	IdentityHeader string
}

func defaultOptions() *Options {
	return &Options{
		PairingHeader:  middleware.DefaultPairingHeader,
		IdentityHeader: middleware.DefaultIdentityHeader,
	}
}
