package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/sieve/pkg/config"
)

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_GIT_TOKEN", "ghp_abc")
	p := NewEnvProvider("TEST_SECRET_")

	value, err := p.GetSecret(context.Background(), "git-token")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != "ghp_abc" {
		t.Errorf("GetSecret() = %q, want ghp_abc", value)
	}

	if _, err := p.GetSecret(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "git-token", "  ghp_file\n", 0o600)
	writeSecret(t, dir, "readonly", "ro", 0o400)
	writeSecret(t, dir, "open", "world", 0o644)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name     string
		want     string
		notFound bool
		wantErr  bool
	}{
		{name: "git-token", want: "ghp_file"},
		{name: "readonly", want: "ro"},
		{name: "missing", notFound: true, wantErr: true},
		{name: "open", wantErr: true},
		{name: "nested", wantErr: true},
		{name: "../escape", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(ctx, tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecret(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("GetSecret(%q) ErrNotFound = %v, want %v", tt.name, errors.Is(err, ErrNotFound), tt.notFound)
			}
			if got != tt.want {
				t.Errorf("GetSecret(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestNewFileProvider_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFileProvider(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
	writeSecret(t, dir, "file", "x", 0o600)
	if _, err := NewFileProvider(filepath.Join(dir, "file")); err == nil {
		t.Error("expected error for non-directory")
	}
}

func TestResolver_FileBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "git-token", "from-file", 0o600)
	t.Setenv("SIEVE_SECRET_GIT_TOKEN", "from-env")
	t.Setenv("SIEVE_SECRET_PASSPHRASE", "hunter2")

	r, err := FromConfig(&config.SecretsConfig{Dir: dir, EnvPrefix: "SIEVE_SECRET_"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if v, _ := r.GetSecret(ctx, "git-token"); v != "from-file" {
		t.Errorf("expected file value, got %q", v)
	}
	if v, _ := r.GetSecret(ctx, "passphrase"); v != "hunter2" {
		t.Errorf("expected env fallback, got %q", v)
	}
}

func TestResolver_FileErrorStopsSearch(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "git-token", "from-file", 0o644)
	t.Setenv("SIEVE_SECRET_GIT_TOKEN", "from-env")

	r, err := FromConfig(&config.SecretsConfig{Dir: dir, EnvPrefix: "SIEVE_SECRET_"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetSecret(context.Background(), "git-token"); err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("expected permission error, got %v", err)
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("X_USER", "alice")
	t.Setenv("X_PASS", "s3cret")
	r := NewResolver(nil, NewEnvProvider("X_"))
	ctx := context.Background()

	got, err := r.Resolve(ctx, "${secret:user}:${secret:pass}")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "alice:s3cret" {
		t.Errorf("Resolve() = %q", got)
	}

	got, err = r.Resolve(ctx, "plain")
	if err != nil || got != "plain" {
		t.Errorf("Resolve(plain) = %q, %v", got, err)
	}

	got, err = r.Resolve(ctx, "${secret:user}-${secret:nope}")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got != "alice-${secret:nope}" {
		t.Errorf("unresolved reference should stay in place, got %q", got)
	}
}

func TestResolver_Caches(t *testing.T) {
	t.Setenv("X_TOKEN", "first")
	r := NewResolver(nil, NewEnvProvider("X_"))
	ctx := context.Background()

	if v, _ := r.GetSecret(ctx, "token"); v != "first" {
		t.Fatalf("got %q", v)
	}
	t.Setenv("X_TOKEN", "second")
	if v, _ := r.GetSecret(ctx, "token"); v != "first" {
		t.Errorf("expected cached value, got %q", v)
	}
}

func TestHasReference(t *testing.T) {
	if !HasReference("token ${secret:a}") {
		t.Error("expected reference")
	}
	if HasReference("${env:a}") || HasReference("") {
		t.Error("unexpected reference")
	}
}

func TestRedactName(t *testing.T) {
	if got := redactName("git-token"); got != "gi...en" {
		t.Errorf("redactName() = %q", got)
	}
	if got := redactName("abc"); got != "***" {
		t.Errorf("redactName() = %q", got)
	}
}
