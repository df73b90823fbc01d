package gitsource

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"
)

// ChangeFunc is called after a pull brings in module changes. commit is the
// new HEAD.
type ChangeFunc func(ctx context.Context, commit string) error

// Poller pulls the repository on an interval and calls a ChangeFunc when
// module files under the configured path changed.
type Poller struct {
	repo       *Repository
	interval   time.Duration
	extensions []string
	onChange   ChangeFunc
	logger     *slog.Logger

	mu      sync.Mutex
	lastSHA string
}

// NewPoller creates a poller. Only files with one of extensions count as
// module changes; an empty list counts every file.
func NewPoller(repo *Repository, extensions []string, onChange ChangeFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		repo:       repo,
		interval:   repo.pollInterval(),
		extensions: extensions,
		onChange:   onChange,
		logger:     logger.With("component", "registry.git"),
	}
}

// Run polls until ctx is done. The repository must be cloned.
func (p *Poller) Run(ctx context.Context) error {
	commit, err := p.repo.CurrentCommit()
	if err != nil {
		return fmt.Errorf("failed to get initial commit: %w", err)
	}
	p.mu.Lock()
	if p.lastSHA == "" {
		p.lastSHA = commit.SHA
	}
	p.mu.Unlock()

	p.logger.Info("git poller started",
		"repository", p.repo.config.Repository,
		"branch", p.repo.config.Branch,
		"poll_interval", p.interval,
		"commit", commit.Short(),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("git poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.Check(ctx); err != nil {
				p.logger.Error("git poll failed", "error", err)
			}
		}
	}
}

// Check pulls once and reports whether the ChangeFunc ran.
func (p *Poller) Check(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.repo.Pull(ctx)
	if err != nil {
		return false, err
	}
	if !result.HadChanges {
		return false, nil
	}

	logger := p.logger.With(
		"from_sha", shortSHA(result.FromSHA),
		"to_sha", shortSHA(result.ToSHA),
	)

	if !p.touchesModules(result.ChangedFiles) {
		logger.Info("no module files changed, skipping reload", "changed_files", result.ChangedFiles)
		p.lastSHA = result.ToSHA
		return false, nil
	}

	logger.Info("module files changed", "changed_files", len(result.ChangedFiles))
	p.lastSHA = result.ToSHA
	if err := p.onChange(ctx, result.ToSHA); err != nil {
		return true, fmt.Errorf("reload at %s: %w", shortSHA(result.ToSHA), err)
	}
	return true, nil
}

// LastCommit returns the last commit the poller observed.
func (p *Poller) LastCommit() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSHA
}

func (p *Poller) touchesModules(files []string) bool {
	prefix := strings.Trim(path.Clean("/"+p.repo.config.Path), "/")
	for _, f := range files {
		if prefix != "" && !strings.HasPrefix(f, prefix+"/") {
			continue
		}
		if len(p.extensions) == 0 {
			return true
		}
		ext := strings.ToLower(path.Ext(f))
		for _, want := range p.extensions {
			if ext == strings.ToLower(want) {
				return true
			}
		}
	}
	return false
}
