package gitsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mercator-hq/sieve/pkg/config"
)

// createSourceRepo initialises a repository at dir with one commit holding
// files.
func createSourceRepo(t *testing.T, dir string, files map[string]string) *gogit.Repository {
	t.Helper()

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	commitFiles(t, repo, dir, "initial commit", files)
	return repo
}

func commitFiles(t *testing.T, repo *gogit.Repository, dir, message string, files map[string]string) {
	t.Helper()

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
	}
	_, err = worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func testConfig(source, local string) *config.GitSourceConfig {
	return &config.GitSourceConfig{
		Enabled:    true,
		Repository: source,
		Branch:     "master",
		Path:       "modules",
		Auth:       config.GitAuthConfig{Type: "none"},
		Poll:       config.GitPollConfig{Enabled: true, Interval: time.Hour, Timeout: 10 * time.Second},
		Clone:      config.GitCloneConfig{LocalPath: local},
	}
}

func TestNewRepository(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.GitSourceConfig
		wantErr bool
	}{
		{name: "nil", cfg: nil, wantErr: true},
		{name: "no url", cfg: &config.GitSourceConfig{Branch: "main"}, wantErr: true},
		{name: "no branch", cfg: &config.GitSourceConfig{Repository: "https://example.com/r.git"}, wantErr: true},
		{
			name:    "bad auth",
			cfg:     &config.GitSourceConfig{Repository: "https://example.com/r.git", Branch: "main", Auth: config.GitAuthConfig{Type: "token"}},
			wantErr: true,
		},
		{name: "valid", cfg: &config.GitSourceConfig{Repository: "https://example.com/r.git", Branch: "main"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRepository(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRepository_CloneAndCommit(t *testing.T) {
	source := t.TempDir()
	createSourceRepo(t, source, map[string]string{"modules/kind1.yaml": "exports: {}\n"})

	repo, err := NewRepository(testConfig(source, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.CurrentCommit(); !errors.Is(err, ErrNotCloned) {
		t.Errorf("CurrentCommit() before clone error = %v, want ErrNotCloned", err)
	}
	if _, err := repo.Pull(context.Background()); !errors.Is(err, ErrNotCloned) {
		t.Errorf("Pull() before clone error = %v, want ErrNotCloned", err)
	}

	if err := repo.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(repo.ModulePath(), "kind1.yaml")); err != nil {
		t.Errorf("module file missing from clone: %v", err)
	}

	commit, err := repo.CurrentCommit()
	if err != nil {
		t.Fatal(err)
	}
	if commit.Author != "Test User" || commit.Branch != "master" || commit.Repository != source {
		t.Errorf("unexpected commit info %+v", commit)
	}
	if len(commit.Short()) != 8 {
		t.Errorf("Short() = %q", commit.Short())
	}

	// A second repository over the same local path reuses the clone.
	again, err := NewRepository(testConfig(source, repo.LocalPath()))
	if err != nil {
		t.Fatal(err)
	}
	if err := again.Clone(context.Background()); err != nil {
		t.Fatalf("reopen Clone() error = %v", err)
	}
}

func TestRepository_Clone_Nonexistent(t *testing.T) {
	repo, err := NewRepository(testConfig(filepath.Join(t.TempDir(), "missing"), t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Clone(context.Background()); err == nil {
		t.Error("expected clone of a missing repository to fail")
	}
}

func TestRepository_Pull(t *testing.T) {
	source := t.TempDir()
	src := createSourceRepo(t, source, map[string]string{"modules/a.yaml": "exports: {}\n"})

	repo, err := NewRepository(testConfig(source, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Clone(context.Background()); err != nil {
		t.Fatal(err)
	}

	result, err := repo.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if result.HadChanges {
		t.Error("expected no changes on an up-to-date clone")
	}

	commitFiles(t, src, source, "add b", map[string]string{"modules/b.yaml": "exports: {}\n"})

	result, err = repo.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if !result.HadChanges {
		t.Fatal("expected changes after a new commit")
	}
	if len(result.ChangedFiles) != 1 || result.ChangedFiles[0] != "modules/b.yaml" {
		t.Errorf("ChangedFiles = %v", result.ChangedFiles)
	}
	if _, err := os.Stat(filepath.Join(repo.ModulePath(), "b.yaml")); err != nil {
		t.Errorf("pulled file missing: %v", err)
	}
}
