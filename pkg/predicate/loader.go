package predicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
)

// Backend compiles one module format.
type Backend interface {
	// Format returns the format the backend handles.
	Format() Format

	// Detect reports whether module looks like this backend's format.
	Detect(module []byte) bool

	// Compile validates and prepares module. Failures must be *LoadError
	// and must not leak resources.
	Compile(ctx context.Context, name string, module []byte) (Module, error)

	// Close releases resources shared by every module the backend compiled.
	Close(ctx context.Context) error
}

// Loader turns module bytes into handles using the first backend whose
// Detect accepts them.
type Loader struct {
	backends []Backend
	logger   *slog.Logger
	observer Observer
}

// NewLoader creates a loader over the given backends, tried in order.
func NewLoader(logger *slog.Logger, backends ...Backend) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		backends: backends,
		logger:   logger.With("component", "predicate.loader"),
		observer: nopObserver{},
	}
}

// WithObserver sets the observer notified of every load.
func (l *Loader) WithObserver(o Observer) *Loader {
	if o == nil {
		o = nopObserver{}
	}
	l.observer = o
	return l
}

// Formats returns the formats the loader accepts, in detection order.
func (l *Loader) Formats() []Format {
	out := make([]Format, 0, len(l.backends))
	for _, b := range l.backends {
		out = append(out, b.Format())
	}
	return out
}

// Load validates module and returns a ready handle. On failure the error is
// a *LoadError and no handle or sandbox resource survives. An empty name is
// replaced by a digest prefix.
func (l *Loader) Load(ctx context.Context, name string, module []byte) (*Handle, error) {
	sum := sha256.Sum256(module)
	digest := hex.EncodeToString(sum[:])
	if name == "" {
		name = digest[:12]
	}

	for _, b := range l.backends {
		if !b.Detect(module) {
			continue
		}

		m, err := b.Compile(ctx, name, module)
		if err != nil {
			err = asLoadError(name, err)
			l.observer.ObserveLoad(b.Format(), err)
			l.logger.Warn("module rejected",
				"module", name,
				"format", b.Format(),
				"error", err,
			)
			return nil, err
		}

		h := NewHandle(name, b.Format(), digest, m)
		l.observer.ObserveLoad(b.Format(), nil)
		l.logger.Info("module loaded",
			"module", name,
			"format", b.Format(),
			"digest", digest,
			"size", len(module),
		)
		return h, nil
	}

	err := Malformed(name, "unrecognized module format", nil)
	l.observer.ObserveLoad("", err)
	return nil, err
}

// Close releases every backend.
func (l *Loader) Close(ctx context.Context) error {
	var errs []error
	for _, b := range l.backends {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func asLoadError(name string, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		if le.Module == "" {
			le.Module = name
		}
		return le
	}
	return Malformed(name, "compile failed", err)
}
