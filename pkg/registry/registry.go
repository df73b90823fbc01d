package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/noscript"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/registry/gitsource"
)

// Loader compiles module bytes into a handle. *predicate.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context, name string, module []byte) (*predicate.Handle, error)
}

// ReloadObserver is told about every completed scan. The metrics collector
// satisfies it.
type ReloadObserver interface {
	RecordRegistryReload(source string, modules int, err error)
}

// Entry is a loaded module. Entries are never mutated; a reload that
// changes a module produces a new Entry.
type Entry struct {
	Name     string
	Path     string
	Handle   *predicate.Handle
	LoadedAt time.Time

	// Script is set for modules published as noscript envelopes.
	Script *noscript.Script

	fileDigest string
}

// Registry maps module names to loaded handles.
type Registry struct {
	config        config.RegistryConfig
	loader        Loader
	logger        *slog.Logger
	observer      ReloadObserver
	maxModuleSize int64
	secrets       gitsource.SecretResolver
	git           *gitsource.Repository

	reloadMu sync.Mutex
	cloned   bool

	mu            sync.RWMutex
	entries       map[string]*Entry
	lastLoadTime  time.Time
	lastLoadError error

	watching atomic.Bool
	closed   atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver reports reloads to o.
func WithObserver(o ReloadObserver) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithMaxModuleSize rejects module files larger than n bytes. Zero means
// no limit.
func WithMaxModuleSize(n int64) Option {
	return func(r *Registry) { r.maxModuleSize = n }
}

// WithSecrets resolves ${secret:name} references in git credentials.
func WithSecrets(sr gitsource.SecretResolver) Option {
	return func(r *Registry) { r.secrets = sr }
}

// New creates an empty registry. Call LoadAll to populate it.
func New(cfg *config.RegistryConfig, loader Loader, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader cannot be nil")
	}

	r := &Registry{
		config:   *cfg,
		loader:   loader,
		logger:   slog.Default(),
		observer: nopObserver{},
		entries:  make(map[string]*Entry),
	}
	if len(r.config.Extensions) == 0 {
		r.config.Extensions = slices.Clone(config.DefaultExtensions)
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")

	if cfg.Git.Enabled {
		repo, err := gitsource.NewRepository(&cfg.Git, gitsource.WithSecrets(r.secrets))
		if err != nil {
			return nil, fmt.Errorf("git source: %w", err)
		}
		r.git = repo
	}

	return r, nil
}

// Dir returns the directory modules are read from.
func (r *Registry) Dir() string {
	if r.git != nil {
		return r.git.ModulePath()
	}
	return r.config.Dir
}

// Source returns "git" or "file".
func (r *Registry) Source() string {
	if r.git != nil {
		return "git"
	}
	return "file"
}

// Commit describes the checked-out commit of the git source.
func (r *Registry) Commit() (*gitsource.CommitInfo, error) {
	if r.git == nil {
		return nil, errors.New("registry has no git source")
	}
	return r.git.CurrentCommit()
}

// LoadAll clones the git source on first use and loads every module file.
// Modules that load are registered even when others fail; the failures are
// returned joined.
func (r *Registry) LoadAll(ctx context.Context) error {
	if r.git != nil {
		r.reloadMu.Lock()
		if !r.cloned {
			if err := r.git.Clone(ctx); err != nil {
				r.reloadMu.Unlock()
				r.observer.RecordRegistryReload(r.Source(), 0, err)
				return fmt.Errorf("git source: %w", err)
			}
			r.cloned = true
		}
		r.reloadMu.Unlock()
	}
	return r.Reload(ctx)
}

// Reload rescans the module directory.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	dir := r.Dir()

	files, err := r.collectFiles(dir)
	if err != nil {
		err = fmt.Errorf("scan %s: %w", dir, err)
		r.recordFailure(err)
		return err
	}

	r.mu.RLock()
	prev := r.entries
	r.mu.RUnlock()

	next := make(map[string]*Entry, len(files))
	var errs []error
	for _, path := range files {
		name := NameOf(path)

		if existing, ok := next[name]; ok {
			errs = append(errs, &LoadError{
				Name:  name,
				Path:  path,
				Cause: fmt.Errorf("%w: also defined by %s", ErrDuplicateName, existing.Path),
			})
			continue
		}

		entry, err := r.loadFile(ctx, name, path, prev[name])
		if err != nil {
			errs = append(errs, err)
			if old, ok := prev[name]; ok {
				r.logger.Warn("keeping previous module version", "module", name, "error", err)
				next[name] = old
			}
			continue
		}
		next[name] = entry
	}

	loadErr := errors.Join(errs...)

	r.mu.Lock()
	r.entries = next
	r.lastLoadTime = time.Now()
	r.lastLoadError = loadErr
	r.mu.Unlock()

	for name, old := range prev {
		if cur, ok := next[name]; ok && cur == old {
			continue
		}
		if err := old.Handle.Close(ctx); err != nil {
			r.logger.Warn("failed to close replaced module", "module", name, "error", err)
		}
	}

	r.observer.RecordRegistryReload(r.Source(), len(next), loadErr)
	r.logger.Info("modules loaded",
		"dir", dir,
		"modules", len(next),
		"failed", len(errs),
		"duration", time.Since(start),
	)
	return loadErr
}

// loadFile returns prev untouched when the file content is unchanged.
func (r *Registry) loadFile(ctx context.Context, name, path string, prev *Entry) (*Entry, error) {
	mf, err := ReadModuleFile(path, r.maxModuleSize)
	if err != nil {
		return nil, &LoadError{Name: name, Path: path, Cause: err}
	}
	if prev != nil && prev.Path == path && prev.fileDigest == mf.Digest {
		return prev, nil
	}

	h, err := r.loader.Load(ctx, name, mf.Module)
	if err != nil {
		return nil, &LoadError{Name: name, Path: path, Cause: err}
	}
	h.SetPrefilter(mf.Prefilter())
	return &Entry{
		Name:       name,
		Path:       path,
		Handle:     h,
		LoadedAt:   time.Now(),
		Script:     mf.Script,
		fileDigest: mf.Digest,
	}, nil
}

// collectFiles returns module files under dir in lexical order.
func (r *Registry) collectFiles(dir string) ([]string, error) {
	return ScanDir(dir, r.config.Extensions, r.config.SkipHidden)
}

func (r *Registry) recordFailure(err error) {
	r.mu.Lock()
	r.lastLoadTime = time.Now()
	r.lastLoadError = err
	n := len(r.entries)
	r.mu.Unlock()

	r.observer.RecordRegistryReload(r.Source(), n, err)
	r.logger.Error("module scan failed", "error", err)
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Resolve returns the handles for names in order. Every missing name is
// reported in a single *NotFoundError.
func (r *Registry) Resolve(names []string) ([]*predicate.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*predicate.Handle, 0, len(names))
	var missing []string
	for _, name := range names {
		e, ok := r.entries[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		handles = append(handles, e.Handle)
	}
	if len(missing) > 0 {
		return nil, &NotFoundError{Names: missing}
	}
	return handles, nil
}

// List returns all entries sorted by name.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// LastLoad returns when the last scan finished and what it failed with.
func (r *Registry) LastLoad() (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLoadTime, r.lastLoadError
}

// Watch reloads on change until ctx is done. With a git source the clone is
// polled for new commits; otherwise the directory is watched with fsnotify.
func (r *Registry) Watch(ctx context.Context) error {
	if (r.git != nil && !r.config.Git.Poll.Enabled) || (r.git == nil && !r.config.Watch) {
		return ErrWatchDisabled
	}
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.watching.CompareAndSwap(false, true) {
		return ErrAlreadyWatching
	}
	defer r.watching.Store(false)

	if r.git != nil {
		poller := gitsource.NewPoller(r.git, r.config.Extensions, func(ctx context.Context, _ string) error {
			return r.Reload(ctx)
		}, r.logger)
		return poller.Run(ctx)
	}

	fw, err := NewFileWatcher(r.config.Dir, r.config.Extensions, r.config.DebounceInterval, r.config.SkipHidden, r.logger)
	if err != nil {
		return err
	}
	return fw.Watch(ctx, func() {
		if err := r.Reload(ctx); err != nil {
			r.logger.Error("module reload failed", "error", err)
		}
	})
}

// Close closes every handle. The registry cannot be reloaded afterwards.
func (r *Registry) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.Handle.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

type nopObserver struct{}

func (nopObserver) RecordRegistryReload(string, int, error) {}
