package gitsource

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/secrets"
)

// SecretResolver expands ${secret:name} references. *secrets.Resolver
// satisfies it.
type SecretResolver interface {
	Resolve(ctx context.Context, s string) (string, error)
}

// Credentials produce the go-git auth method for one clone or pull.
// References in credential values are expanded on every call, so a rotated
// token is used by the next pull.
type Credentials interface {
	AuthMethod(ctx context.Context) (transport.AuthMethod, error)
	Kind() string
}

// TokenCredentials authenticate over HTTPS with an access token.
type TokenCredentials struct {
	Token   string
	Secrets SecretResolver
}

func (c *TokenCredentials) AuthMethod(ctx context.Context) (transport.AuthMethod, error) {
	token, err := expand(ctx, c.Secrets, "token", c.Token)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}
	// The username is ignored by hosts when the password is a token.
	return &http.BasicAuth{Username: "git", Password: token}, nil
}

func (c *TokenCredentials) Kind() string { return "token" }

// SSHCredentials authenticate with a private key file and an optional
// passphrase.
type SSHCredentials struct {
	KeyPath    string
	Passphrase string
	Secrets    SecretResolver
}

// AuthMethod loads the key. A key readable by group or others is refused.
func (c *SSHCredentials) AuthMethod(ctx context.Context) (transport.AuthMethod, error) {
	if c.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is empty")
	}
	info, err := os.Stat(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("ssh key %s is accessible by others (%o)", c.KeyPath, perm)
	}

	passphrase, err := expand(ctx, c.Secrets, "ssh_key_passphrase", c.Passphrase)
	if err != nil {
		return nil, err
	}
	keys, err := ssh.NewPublicKeysFromFile("git", c.KeyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("ssh key %s: %w", c.KeyPath, err)
	}
	return keys, nil
}

func (c *SSHCredentials) Kind() string { return "ssh" }

// Anonymous is used for public repositories and local paths.
type Anonymous struct{}

func (Anonymous) AuthMethod(context.Context) (transport.AuthMethod, error) { return nil, nil }

func (Anonymous) Kind() string { return "none" }

// NewCredentials builds the credentials selected by cfg.Type. sr may be
// nil when no credential value holds a secret reference.
func NewCredentials(cfg *config.GitAuthConfig, sr SecretResolver) (Credentials, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config cannot be nil")
	}

	var refs []string
	switch cfg.Type {
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires a token")
		}
		refs = append(refs, cfg.Token)
	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		refs = append(refs, cfg.SSHKeyPassphrase)
	case "none", "":
		return Anonymous{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	if sr == nil {
		for _, v := range refs {
			if secrets.HasReference(v) {
				return nil, fmt.Errorf("%s credentials reference a secret but no secret resolver is configured", cfg.Type)
			}
		}
	}

	if cfg.Type == "token" {
		return &TokenCredentials{Token: cfg.Token, Secrets: sr}, nil
	}
	return &SSHCredentials{KeyPath: cfg.SSHKeyPath, Passphrase: cfg.SSHKeyPassphrase, Secrets: sr}, nil
}

func expand(ctx context.Context, sr SecretResolver, field, value string) (string, error) {
	if sr == nil || !secrets.HasReference(value) {
		return value, nil
	}
	out, err := sr.Resolve(ctx, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return out, nil
}
