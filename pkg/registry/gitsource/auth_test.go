package gitsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/secrets"
	"mercator-hq/sieve/pkg/telemetry/logging"
)

func TestNewCredentials(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.GitAuthConfig
		sr       SecretResolver
		wantKind string
		wantErr  bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "empty type", cfg: &config.GitAuthConfig{}, wantKind: "none"},
		{name: "none", cfg: &config.GitAuthConfig{Type: "none"}, wantKind: "none"},
		{name: "token", cfg: &config.GitAuthConfig{Type: "token", Token: "ghp_x"}, wantKind: "token"},
		{name: "token missing", cfg: &config.GitAuthConfig{Type: "token"}, wantErr: true},
		{name: "ssh", cfg: &config.GitAuthConfig{Type: "ssh", SSHKeyPath: "/tmp/id"}, wantKind: "ssh"},
		{name: "ssh missing path", cfg: &config.GitAuthConfig{Type: "ssh"}, wantErr: true},
		{name: "unknown", cfg: &config.GitAuthConfig{Type: "kerberos"}, wantErr: true},
		{
			name:    "token reference without resolver",
			cfg:     &config.GitAuthConfig{Type: "token", Token: "${secret:git-token}"},
			wantErr: true,
		},
		{
			name:    "passphrase reference without resolver",
			cfg:     &config.GitAuthConfig{Type: "ssh", SSHKeyPath: "/tmp/id", SSHKeyPassphrase: "${secret:pass}"},
			wantErr: true,
		},
		{
			name:     "token reference with resolver",
			cfg:      &config.GitAuthConfig{Type: "token", Token: "${secret:git-token}"},
			sr:       secrets.NewResolver(logging.Discard()),
			wantKind: "token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCredentials(tt.cfg, tt.sr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", c.Kind(), tt.wantKind)
			}
		})
	}
}

func TestTokenCredentials_AuthMethod(t *testing.T) {
	ctx := context.Background()

	auth, err := (&TokenCredentials{Token: "plain"}).AuthMethod(ctx)
	if err != nil {
		t.Fatal(err)
	}
	basic, ok := auth.(*http.BasicAuth)
	if !ok {
		t.Fatalf("expected *http.BasicAuth, got %T", auth)
	}
	if basic.Password != "plain" {
		t.Errorf("Password = %q", basic.Password)
	}

	if _, err := (&TokenCredentials{}).AuthMethod(ctx); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestTokenCredentials_ExpandsSecretsPerCall(t *testing.T) {
	ctx := context.Background()
	t.Setenv("SIEVE_SECRET_GIT_TOKEN", "ghp_first")

	sr := secrets.NewResolver(logging.Discard(), secrets.NewEnvProvider("SIEVE_SECRET_"))
	c, err := NewCredentials(&config.GitAuthConfig{Type: "token", Token: "${secret:git-token}"}, sr)
	if err != nil {
		t.Fatal(err)
	}

	auth, err := c.AuthMethod(ctx)
	if err != nil {
		t.Fatalf("AuthMethod() error = %v", err)
	}
	if got := auth.(*http.BasicAuth).Password; got != "ghp_first" {
		t.Errorf("Password = %q, want ghp_first", got)
	}

	missing, err := NewCredentials(&config.GitAuthConfig{Type: "token", Token: "${secret:absent}"}, sr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := missing.AuthMethod(ctx); !errors.Is(err, secrets.ErrNotFound) {
		t.Errorf("AuthMethod() error = %v, want ErrNotFound", err)
	}
}

func TestSSHCredentials_RejectsOpenPermissions(t *testing.T) {
	ctx := context.Background()
	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("not a key"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (&SSHCredentials{KeyPath: key}).AuthMethod(ctx); err == nil {
		t.Error("expected error for world-readable key")
	}
	if _, err := (&SSHCredentials{KeyPath: filepath.Join(t.TempDir(), "missing")}).AuthMethod(ctx); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestSSHCredentials_UnresolvedPassphrase(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := &SSHCredentials{
		KeyPath:    key,
		Passphrase: "${secret:ssh-pass}",
		Secrets:    secrets.NewResolver(logging.Discard()),
	}
	if _, err := c.AuthMethod(context.Background()); !errors.Is(err, secrets.ErrNotFound) {
		t.Errorf("AuthMethod() error = %v, want ErrNotFound", err)
	}
}

func TestAnonymous(t *testing.T) {
	auth, err := Anonymous{}.AuthMethod(context.Background())
	if err != nil || auth != nil {
		t.Errorf("AuthMethod() = %v, %v; want nil, nil", auth, err)
	}
}
