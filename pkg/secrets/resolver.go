package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"mercator-hq/sieve/pkg/config"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// HasReference reports whether s contains a ${secret:name} reference.
func HasReference(s string) bool {
	return refPattern.MatchString(s)
}

// Resolver tries its providers in order and caches what they return.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver creates a resolver over providers. A nil logger uses
// slog.Default().
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		providers: providers,
		logger:    logger.With("component", "secrets"),
		cache:     make(map[string]string),
	}
}

// FromConfig builds the directory provider (when cfg.Dir is set) followed by
// the environment provider.
func FromConfig(cfg *config.SecretsConfig, logger *slog.Logger) (*Resolver, error) {
	var providers []Provider
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))
	return NewResolver(logger, providers...), nil
}

// GetSecret returns the value from the first provider holding name. Errors
// other than ErrNotFound stop the search.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	value, ok := r.cache[name]
	r.mu.Unlock()
	if ok {
		return value, nil
	}

	for _, p := range r.providers {
		value, err := p.GetSecret(ctx, name)
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("secret not in provider", "provider", p.Provider(), "name", redactName(name))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Provider(), err)
		}

		r.mu.Lock()
		r.cache[name] = value
		r.mu.Unlock()
		r.logger.Debug("secret resolved", "provider", p.Provider(), "name", redactName(name))
		return value, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in s. Unresolved
// references are left in place and reported together.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		value, err := r.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	return out, errors.Join(errs...)
}

// redactName keeps the first and last two characters of a secret name.
func redactName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
