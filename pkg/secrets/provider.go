// Package secrets resolves ${secret:name} references in credentials.
//
// The registry's git source reads its token and SSH key passphrase from
// configuration. Either may instead name a secret:
//
//	registry:
//	  git:
//	    auth:
//	      type: token
//	      token: ${secret:git-token}
//	secrets:
//	  dir: /run/secrets
//
// Secrets are looked up in the configured directory first, then in the
// environment (SIEVE_SECRET_GIT_TOKEN for the example above).
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no provider holds a secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// GetSecret returns the named secret. A missing secret yields an error
	// wrapping ErrNotFound.
	GetSecret(ctx context.Context, name string) (string, error)

	// Provider returns the backend name ("env", "file").
	Provider() string
}
